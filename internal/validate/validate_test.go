package validate

import (
	"testing"

	"github.com/biocite/biocite/internal/extract"
	"github.com/biocite/biocite/internal/snippet"
)

func sixSnippets() *snippet.Index {
	var list []snippet.Snippet
	for _, sid := range []string{"S1", "S2", "S3", "S4", "S5", "S6"} {
		list = append(list, snippet.Snippet{SID: sid, Title: "t " + sid, URL: "https://example.org/" + sid})
	}
	return snippet.NewIndex(list)
}

func classOf(t *testing.T, doc *extract.Document, ordinal int) extract.Class {
	t.Helper()
	claims := doc.Section(extract.EvidenceSummary).Claims()
	if ordinal >= len(claims) {
		t.Fatalf("no claim at ordinal %d", ordinal)
	}
	return claims[ordinal].Class
}

func TestClassifySupportedAndUnsupported(t *testing.T) {
	doc := extract.Parse("2) Evidence Summary\n- cited twice [S1][S2].\n- cited once [S6].\n- no citation here.\n")
	Classify(doc, sixSnippets())
	if got := classOf(t, doc, 0); got != extract.Supported {
		t.Fatalf("claim 0: want supported, got %s", got)
	}
	if got := classOf(t, doc, 1); got != extract.Supported {
		t.Fatalf("claim 1: want supported, got %s", got)
	}
	if got := classOf(t, doc, 2); got != extract.Unsupported {
		t.Fatalf("claim 2: want unsupported, got %s", got)
	}
}

// A claim citing [S7] against an index of S1..S6 is a dangling citation and
// therefore unsupported, even though a citation marker is present.
func TestClassifyDanglingCitationIsUnsupported(t *testing.T) {
	doc := extract.Parse("2) Evidence Summary\n- looks cited but is not [S7].\n- half real [S1][S9].\n")
	dangling := Classify(doc, sixSnippets())
	if got := classOf(t, doc, 0); got != extract.Unsupported {
		t.Fatalf("dangling citation must be unsupported, got %s", got)
	}
	if got := classOf(t, doc, 1); got != extract.Unsupported {
		t.Fatalf("one dangling citation taints the claim, got %s", got)
	}
	if len(dangling) != 2 {
		t.Fatalf("want 2 dangling records, got %d: %+v", len(dangling), dangling)
	}
	if dangling[0].SIDs[0] != "S7" || dangling[1].SIDs[0] != "S9" {
		t.Fatalf("unexpected dangling SIDs: %+v", dangling)
	}
}

func TestClassifyPlaceholderNeedsResolvingCitation(t *testing.T) {
	doc := extract.Parse("2) Evidence Summary\n- Insufficient evidence in provided snippets. [S4]\n- Insufficient evidence in provided snippets.\n- Insufficient evidence in provided snippets. [S9]\n")
	Classify(doc, sixSnippets())
	if got := classOf(t, doc, 0); got != extract.Placeholder {
		t.Fatalf("cited placeholder must classify placeholder, got %s", got)
	}
	if got := classOf(t, doc, 1); got != extract.Unsupported {
		t.Fatalf("uncited placeholder must stay unsupported, got %s", got)
	}
	if got := classOf(t, doc, 2); got != extract.Unsupported {
		t.Fatalf("dangling placeholder must stay unsupported, got %s", got)
	}
}

func TestClassifySkipsMetaSections(t *testing.T) {
	doc := extract.Parse("6) Safety Note\n- Not medical advice, uncited on purpose.\n\n## Sources\n- S1: something\n")
	Classify(doc, sixSnippets())
	for _, c := range doc.Claims() {
		if c.Class != extract.Unclassified {
			t.Fatalf("meta section claim classified: %+v", c)
		}
	}
}

func TestClassifyEmptyIndexLeavesEverythingUnsupported(t *testing.T) {
	doc := extract.Parse("2) Evidence Summary\n- cites into the void [S1].\n")
	Classify(doc, snippet.NewIndex(nil))
	if got := classOf(t, doc, 0); got != extract.Unsupported {
		t.Fatalf("want unsupported against empty index, got %s", got)
	}
}
