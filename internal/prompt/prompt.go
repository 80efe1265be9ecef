// Package prompt builds the generation and repair prompts. The citation
// rules are the anti-hallucination contract: only bracketed [S#] citations
// drawn from the supplied snippets are allowed.
package prompt

import (
	"fmt"
	"strings"

	"github.com/biocite/biocite/internal/snippet"
)

// CitationRules is the system contract for report generation.
const CitationRules = `You are a biomedical research evidence assistant.

You MUST follow these rules:
1) Use ONLY the provided evidence snippets [S1], [S2], ... as sources.
2) Every factual claim MUST include at least one citation like [S3].
3) If evidence is missing or weak, explicitly say "Insufficient evidence in provided snippets." and do NOT guess.
4) Do NOT provide medical advice. Do NOT claim a treatment works. This is research support only.
5) Distinguish clearly between what is directly supported by snippets and what is a hypothesis (label as "Hypothesis").
6) Include an "Uncertainty & Limitations" section noting that evidence quality varies and abstracts are incomplete summaries.
7) Use ONLY bracket citations in the form [S#]. Do NOT cite anything else.`

// ReportTemplate fixes the section structure the extractor recognizes.
const ReportTemplate = `Return a structured report with these exact sections:

1) Question
- Restate the user's disease+drug query in 1 sentence.

2) Evidence Summary (with citations)
- 4-8 bullet points summarizing what the snippets say about the drug and disease.
- Each bullet MUST end with citations like [S2][S5].

3) Biological Rationale (with citations)
- Explain plausible biological mechanisms mentioned in the snippets.
- If you infer beyond the text, label it as Hypothesis and still cite supporting snippets.

4) Contradictions / Gaps (with citations if applicable)
- Note disagreements, missing info, or why evidence may not be strong.

5) Uncertainty & Limitations
- Include the required limitations.

6) Safety Note
- One short paragraph: not medical advice, not a validated therapeutic recommendation.`

// MolecularProfile is optional mechanistic context from ChEMBL.
type MolecularProfile struct {
	ChemblID   string
	TopTargets []string
}

// Build assembles the full generation prompt: rules, template, optional
// molecular profile, evidence snippets, and the user question.
func Build(disease, drug string, snips []snippet.Snippet, mol *MolecularProfile) string {
	var b strings.Builder
	b.WriteString(CitationRules)
	b.WriteString("\n\n")
	b.WriteString(ReportTemplate)
	b.WriteString("\n\n")

	if mol != nil && mol.ChemblID != "" {
		b.WriteString("MOLECULAR PROFILE:\n")
		b.WriteString("- ChEMBL ID: ")
		b.WriteString(mol.ChemblID)
		b.WriteString("\n- Top Targets: ")
		if len(mol.TopTargets) > 0 {
			n := len(mol.TopTargets)
			if n > 3 {
				n = 3
			}
			b.WriteString(strings.Join(mol.TopTargets[:n], ", "))
		} else {
			b.WriteString("N/A")
		}
		b.WriteString("\n\n")
	}

	b.WriteString("EVIDENCE SNIPPETS:\n")
	wrote := false
	for _, s := range snips {
		t := strings.TrimSpace(s.Text)
		if t == "" {
			continue
		}
		b.WriteString(t)
		b.WriteString("\n\n")
		wrote = true
	}
	if !wrote {
		b.WriteString("[No snippets provided]\n\n")
	}

	fmt.Fprintf(&b, "USER QUESTION: Write the research report for %s in %s.\n", drug, disease)
	b.WriteString("IMPORTANT FORMAT: In Section 2, write bullet points starting with '-' and END each bullet with citations like [S1][S2].")
	return b.String()
}

// BuildRepair asks the model to fix a single unsupported claim. The model
// may either rewrite the claim citing a genuinely relevant snippet or
// replace it with the fixed insufficiency phrase plus one citation.
func BuildRepair(claimText string, snips []snippet.Snippet) string {
	var b strings.Builder
	b.WriteString("You are repairing ONE bullet point that lacks a valid citation in a grounded biomedical report.\n\n")
	b.WriteString("CONSTRAINTS:\n")
	b.WriteString("- Use ONLY citations from the AVAILABLE SNIPPETS list below.\n")
	b.WriteString("- Do NOT introduce any new factual claims.\n")
	b.WriteString("- If the bullet is supported by a snippet, keep its meaning and append the citation(s) at the end like [S3] or [S2][S5].\n")
	b.WriteString("- If it is not supported, replace it with: \"Insufficient evidence in provided snippets.\" plus ONE citation to the most topically related snippet.\n")
	b.WriteString("- Output exactly one bullet line starting with '- ' and nothing else.\n\n")
	b.WriteString("AVAILABLE SNIPPETS:\n")
	for _, s := range snips {
		fmt.Fprintf(&b, "[%s] %s\n", s.SID, s.Title)
	}
	b.WriteString("\nBULLET TO FIX:\n- ")
	b.WriteString(strings.TrimSpace(claimText))
	return b.String()
}
