package prompt

import (
	"strings"
	"testing"

	"github.com/biocite/biocite/internal/snippet"
)

func TestBuildIncludesRulesSnippetsAndQuestion(t *testing.T) {
	snips := []snippet.Snippet{
		{SID: "S1", Title: "Trial", Text: "[S1] Title: Trial\nAbstract: levodopa improved scores"},
		{SID: "S2", Title: "Empty text snippet"},
	}
	got := Build("Parkinson disease", "levodopa", snips, nil)
	for _, want := range []string{
		"Use ONLY bracket citations in the form [S#]",
		"2) Evidence Summary (with citations)",
		"levodopa improved scores",
		"USER QUESTION: Write the research report for levodopa in Parkinson disease.",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
	if strings.Contains(got, "MOLECULAR PROFILE") {
		t.Fatalf("no molecular profile requested, got one")
	}
}

func TestBuildWithMolecularProfileCapsTargets(t *testing.T) {
	mol := &MolecularProfile{ChemblID: "CHEMBL1009", TopTargets: []string{"DDC", "COMT", "MAO-B", "extra"}}
	got := Build("Parkinson disease", "levodopa", nil, mol)
	if !strings.Contains(got, "ChEMBL ID: CHEMBL1009") {
		t.Fatalf("chembl id missing")
	}
	if !strings.Contains(got, "DDC, COMT, MAO-B") || strings.Contains(got, "extra") {
		t.Fatalf("top targets must cap at three: %s", got)
	}
	if !strings.Contains(got, "[No snippets provided]") {
		t.Fatalf("empty snippet list must be stated")
	}
}

func TestBuildRepairListsCatalogueAndClaim(t *testing.T) {
	snips := []snippet.Snippet{{SID: "S1", Title: "Trial"}, {SID: "S2", Title: "Mouse study"}}
	got := BuildRepair("dopamine agonists cure everything", snips)
	if !strings.Contains(got, "[S1] Trial") || !strings.Contains(got, "[S2] Mouse study") {
		t.Fatalf("snippet catalogue missing:\n%s", got)
	}
	if !strings.Contains(got, "BULLET TO FIX:\n- dopamine agonists cure everything") {
		t.Fatalf("claim text missing:\n%s", got)
	}
	if !strings.Contains(got, "Insufficient evidence in provided snippets.") {
		t.Fatalf("fallback instruction missing")
	}
}
