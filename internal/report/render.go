// Package report reassembles a parsed document into markdown, regenerates
// the Sources block, and writes the final artifacts.
package report

import (
	"strings"

	"github.com/biocite/biocite/internal/extract"
	"github.com/biocite/biocite/internal/snippet"
)

// ClaimRef addresses one claim for text replacement during repair: the
// section's position in Document.Sections plus the claim's ordinal within
// it. Addressing by position keeps repairs distinct even when a generated
// report repeats a heading. Claims themselves are never mutated; a render
// with overrides produces a new report text that is then re-parsed from
// scratch.
type ClaimRef struct {
	Section int
	Ordinal int
}

// Render emits the document as markdown. Claim texts in overrides replace
// the originals. Any parsed Sources section is dropped and rebuilt so the
// block lists exactly the snippet identifiers cited in the body, each with
// title and URL, in order of first appearance.
func Render(doc *extract.Document, idx *snippet.Index, overrides map[ClaimRef]string) string {
	var b strings.Builder
	var cited []string
	seen := map[string]struct{}{}

	note := func(text string) {
		for _, sid := range extract.Citations(text) {
			if _, ok := seen[sid]; ok {
				continue
			}
			seen[sid] = struct{}{}
			cited = append(cited, sid)
		}
	}

	for _, line := range doc.Preamble {
		note(line)
		b.WriteString(line)
		b.WriteString("\n")
	}
	for si, sec := range doc.Sections {
		if sec.Name == extract.Sources {
			continue
		}
		b.WriteString(sec.Heading)
		b.WriteString("\n")
		for _, it := range sec.Items {
			if it.Claim == nil {
				note(it.Prose)
				b.WriteString(it.Prose)
				b.WriteString("\n")
				continue
			}
			text := it.Claim.Text
			if ov, ok := overrides[ClaimRef{Section: si, Ordinal: it.Claim.Ordinal}]; ok {
				text = ov
			}
			note(text)
			b.WriteString("- ")
			b.WriteString(text)
			b.WriteString("\n")
		}
	}

	if len(cited) > 0 {
		b.WriteString("\n## Sources\n")
		for _, sid := range cited {
			b.WriteString("- ")
			b.WriteString(sid)
			b.WriteString(": ")
			if s, ok := idx.Get(sid); ok {
				b.WriteString(s.Title)
				if s.URL != "" {
					b.WriteString(" — ")
					b.WriteString(s.URL)
				}
			} else {
				b.WriteString("(unresolved citation)")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// UsedSIDs returns the distinct identifiers cited anywhere in the body, in
// order of first appearance.
func UsedSIDs(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	doc := extract.Parse(text)
	collect := func(s string) {
		for _, sid := range extract.Citations(s) {
			if _, ok := seen[sid]; ok {
				continue
			}
			seen[sid] = struct{}{}
			out = append(out, sid)
		}
	}
	for _, sec := range doc.Sections {
		if sec.Name == extract.Sources {
			continue
		}
		for _, it := range sec.Items {
			if it.Claim != nil {
				collect(it.Claim.Text)
			} else {
				collect(it.Prose)
			}
		}
	}
	return out
}
