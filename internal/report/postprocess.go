package report

import (
	"strings"

	"github.com/biocite/biocite/internal/snippet"
)

// EvidenceStrength is a crude but useful signal about the kind of evidence
// the retrieved snippets carry.
type EvidenceStrength string

const (
	StrengthClinical    EvidenceStrength = "Human clinical signal present in retrieved snippets"
	StrengthPreclinical EvidenceStrength = "Preclinical / animal evidence dominates retrieved snippets"
	StrengthMechanistic EvidenceStrength = "Mechanistic / indirect evidence in retrieved snippets"
)

var (
	clinicalMarkers    = []string{"randomized", "randomised", "double-blind", "placebo", "clinical trial"}
	preclinicalMarkers = []string{"mouse", "mice", "rat", "rodent", "animal model", "preclinical"}
)

// InferEvidenceStrength scans snippet titles and texts for study-type markers.
func InferEvidenceStrength(snips []snippet.Snippet) EvidenceStrength {
	var b strings.Builder
	for _, s := range snips {
		b.WriteString(strings.ToLower(s.Title))
		b.WriteString(" ")
		b.WriteString(strings.ToLower(s.Text))
		b.WriteString(" ")
	}
	text := b.String()
	for _, k := range clinicalMarkers {
		if strings.Contains(text, k) {
			return StrengthClinical
		}
	}
	for _, k := range preclinicalMarkers {
		if strings.Contains(text, k) {
			return StrengthPreclinical
		}
	}
	return StrengthMechanistic
}

// Verdict summarizes how grounded the report body is, based on how often it
// had to fall back to explicit insufficiency.
func Verdict(body string, strength EvidenceStrength) string {
	lower := strings.ToLower(body)
	if strings.Count(lower, "insufficient evidence") >= 3 {
		return "Limited support in retrieved snippets; many claims are marked as insufficient."
	}
	if strings.Contains(lower, "no direct evidence") {
		return "No direct clinical evidence in retrieved snippets; conclusions are mainly mechanistic/preclinical."
	}
	return "Grounded summary from retrieved snippets. (" + string(strength) + ")"
}

// AddHeader prepends the verdict block the UI surfaces above the report.
func AddHeader(body string, snips []snippet.Snippet) string {
	used := UsedSIDs(body)
	strength := InferEvidenceStrength(snips)
	var b strings.Builder
	b.WriteString("**Verdict:** ")
	b.WriteString(Verdict(body, strength))
	b.WriteString("\n\n**Evidence strength (from retrieved snippets):** ")
	b.WriteString(string(strength))
	b.WriteString("\n\n**Citations used:** ")
	if len(used) > 0 {
		b.WriteString(strings.Join(used, ", "))
	} else {
		b.WriteString("None")
	}
	b.WriteString("\n\n---\n\n")
	b.WriteString(body)
	return b.String()
}
