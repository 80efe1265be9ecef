// Package validate classifies parsed claims against the snippet index.
// Classification depends only on citation resolvability and the placeholder
// prefix match; no semantic comparison of claim text with snippet text.
package validate

import (
	"github.com/biocite/biocite/internal/extract"
	"github.com/biocite/biocite/internal/snippet"
)

// Dangling holds the citation identifiers on one claim that did not resolve
// in the index. A dangling citation marks the whole claim Unsupported: an
// invented identifier cannot be trusted any more than a missing one.
type Dangling struct {
	Section extract.Name
	Ordinal int
	SIDs    []string
}

// Classify sets the Class of every claim in scored sections and returns the
// dangling citations it found. Claims in meta sections (Question, Safety
// Note, Sources) and unrecognized sections stay Unclassified; they are never
// claims for scoring purposes.
func Classify(doc *extract.Document, idx *snippet.Index) []Dangling {
	var dangling []Dangling
	for _, sec := range doc.Sections {
		if !sec.Name.Scored() {
			continue
		}
		for _, c := range sec.Claims() {
			c.Class, _ = classify(c, idx)
			if bad := unresolved(c, idx); len(bad) > 0 {
				dangling = append(dangling, Dangling{Section: sec.Name, Ordinal: c.Ordinal, SIDs: bad})
			}
		}
	}
	return dangling
}

func classify(c *extract.Claim, idx *snippet.Index) (extract.Class, bool) {
	if len(c.Citations) == 0 {
		return extract.Unsupported, false
	}
	for _, sid := range c.Citations {
		if !idx.Has(sid) {
			return extract.Unsupported, false
		}
	}
	if c.PlaceholderCandidate {
		return extract.Placeholder, true
	}
	return extract.Supported, true
}

func unresolved(c *extract.Claim, idx *snippet.Index) []string {
	var bad []string
	seen := map[string]struct{}{}
	for _, sid := range c.Citations {
		if idx.Has(sid) {
			continue
		}
		if _, ok := seen[sid]; ok {
			continue
		}
		seen[sid] = struct{}{}
		bad = append(bad, sid)
	}
	return bad
}
