// Package extract parses generated evidence reports into ordered sections
// and atomic bullet-level claims. Parsing is total: malformed markdown never
// fails, it just ends up as non-scored prose.
package extract

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Name identifies one of the fixed report sections. Headings that match none
// of them are carried through as Unknown and excluded from scoring.
type Name string

const (
	Unknown                Name = ""
	Question               Name = "question"
	EvidenceSummary        Name = "evidence_summary"
	BiologicalRationale    Name = "biological_rationale"
	ContradictionsGaps     Name = "contradictions_gaps"
	UncertaintyLimitations Name = "uncertainty_limitations"
	SafetyNote             Name = "safety_note"
	Sources                Name = "sources"
)

// Scored reports whether claims in this section count toward coverage.
// Question restates the query and Safety Note is boilerplate; neither holds
// factual claims. Sources is regenerated from the body on every render.
func (n Name) Scored() bool {
	switch n {
	case EvidenceSummary, BiologicalRationale, ContradictionsGaps, UncertaintyLimitations:
		return true
	}
	return false
}

// Class is the validation state of a claim.
type Class string

const (
	Unclassified Class = "unclassified"
	Supported    Class = "supported"
	Unsupported  Class = "unsupported"
	Placeholder  Class = "placeholder"
)

// Claim is one atomic bullet-level statement. Claims are recreated on every
// parse; a later pass replaces the whole list rather than mutating in place.
type Claim struct {
	Section   Name
	Ordinal   int
	Text      string
	Citations []string
	Class     Class
	// PlaceholderCandidate is set when the text begins with a configured
	// insufficient-evidence phrase. It still needs a resolving citation to
	// classify as Placeholder.
	PlaceholderCandidate bool
}

// Item is one ordered piece of a section: either a prose line kept verbatim
// or a claim.
type Item struct {
	Prose string
	Claim *Claim
}

// Section is a named group of items under one heading.
type Section struct {
	Name    Name
	Heading string
	Items   []Item
}

// Claims returns the section's claims in order.
func (s *Section) Claims() []*Claim {
	var out []*Claim
	for _, it := range s.Items {
		if it.Claim != nil {
			out = append(out, it.Claim)
		}
	}
	return out
}

// Document is a parsed report: preamble lines before the first heading plus
// ordered sections.
type Document struct {
	Preamble []string
	Sections []*Section
}

// Claims returns every claim in document order.
func (d *Document) Claims() []*Claim {
	var out []*Claim
	for _, sec := range d.Sections {
		out = append(out, sec.Claims()...)
	}
	return out
}

// ScoredClaims returns claims from scored sections only.
func (d *Document) ScoredClaims() []*Claim {
	var out []*Claim
	for _, sec := range d.Sections {
		if !sec.Name.Scored() {
			continue
		}
		out = append(out, sec.Claims()...)
	}
	return out
}

// Section returns the first section with the given name, or nil.
func (d *Document) Section(n Name) *Section {
	for _, sec := range d.Sections {
		if sec.Name == n {
			return sec
		}
	}
	return nil
}

// Options control parsing. The placeholder prefix set is configurable so
// phrasing drift does not silently fall through to Unsupported.
type Options struct {
	PlaceholderPrefixes []string
}

// PlaceholderPhrase is the canonical replacement text for claims the model
// could not ground. Repair falls back to it verbatim.
const PlaceholderPhrase = "Insufficient evidence in provided snippets."

// DefaultPlaceholderPrefixes covers the phrasings the generation prompt asks
// for, matched case-insensitively.
func DefaultPlaceholderPrefixes() []string {
	return []string{
		"insufficient evidence in provided snippets",
		"insufficient evidence in the provided snippets",
		"insufficient evidence",
	}
}

func (o Options) prefixes() []string {
	if len(o.PlaceholderPrefixes) > 0 {
		return o.PlaceholderPrefixes
	}
	return DefaultPlaceholderPrefixes()
}

var (
	citeRe     = regexp.MustCompile(`\[(S\d+)\]`)
	hashRe     = regexp.MustCompile(`^\s{0,3}(#{1,6})\s+(.+?)\s*$`)
	boldRe     = regexp.MustCompile(`^\*\*(.+?)\*\*:?\s*$`)
	numberedRe = regexp.MustCompile(`^(\d+)[.)]\s+(.+?)\s*$`)
	bulletRe   = regexp.MustCompile(`^([-*]|\d+[.)])\s+(.*)$`)
	parenRe    = regexp.MustCompile(`\([^)]*\)`)
	wordRe     = regexp.MustCompile(`[a-z0-9]+`)
)

var knownSections = map[string]Name{
	"question":                    Question,
	"evidence summary":            EvidenceSummary,
	"biological rationale":        BiologicalRationale,
	"contradictions gaps":         ContradictionsGaps,
	"contradictions":              ContradictionsGaps,
	"gaps":                        ContradictionsGaps,
	"uncertainty limitations":     UncertaintyLimitations,
	"uncertainty and limitations": UncertaintyLimitations,
	"safety note":                 SafetyNote,
	"safety":                      SafetyNote,
	"sources":                     Sources,
	"references":                  Sources,
}

// Citations extracts bracketed [S#] identifiers in order of appearance,
// preserving duplicates. Adjacent brackets like [S2][S5] split individually.
func Citations(s string) []string {
	var out []string
	for _, m := range citeRe.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}
	return out
}

// canonicalName normalizes a heading candidate for lookup: lowercase, drop
// parentheticals and leading numbering, collapse every non-alphanumeric run.
func canonicalName(s string) string {
	s = strings.ToLower(s)
	s = parenRe.ReplaceAllString(s, " ")
	words := wordRe.FindAllString(s, -1)
	for len(words) > 0 && isDigits(words[0]) {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// matchHeading classifies a line as a section heading. Hash headings always
// open a section even when unrecognized; bold or numbered lines only count
// when they are unindented and name a known section, otherwise a "1) ..."
// line is a bullet or a sub-item continuing one.
func matchHeading(line string) (Name, bool) {
	if m := hashRe.FindStringSubmatch(line); m != nil {
		if name, ok := knownSections[canonicalName(m[2])]; ok {
			return name, true
		}
		return Unknown, true
	}
	if indentOf(line) >= 2 {
		return Unknown, false
	}
	trimmed := strings.TrimSpace(line)
	if m := boldRe.FindStringSubmatch(trimmed); m != nil {
		if name, ok := knownSections[canonicalName(m[1])]; ok {
			return name, true
		}
	}
	if m := numberedRe.FindStringSubmatch(trimmed); m != nil {
		if name, ok := knownSections[canonicalName(m[2])]; ok {
			return name, true
		}
	}
	return Unknown, false
}

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

// Parse splits a markdown report into sections and claims using the default
// options.
func Parse(text string) *Document {
	return ParseWithOptions(text, Options{})
}

// ParseWithOptions is Parse with an explicit placeholder prefix set.
func ParseWithOptions(text string, opts Options) *Document {
	prefixes := opts.prefixes()
	doc := &Document{}
	var cur *Section
	var lastClaim *Claim

	text = norm.NFC.String(text)
	for _, line := range strings.Split(text, "\n") {
		if name, ok := matchHeading(line); ok {
			cur = &Section{Name: name, Heading: line}
			doc.Sections = append(doc.Sections, cur)
			lastClaim = nil
			continue
		}
		if cur == nil {
			doc.Preamble = append(doc.Preamble, line)
			continue
		}

		trimmed := strings.TrimSpace(line)
		indent := indentOf(line)

		// Nested sub-items and wrapped lines continue the open claim.
		if lastClaim != nil && trimmed != "" && indent >= 2 {
			cont := trimmed
			if m := bulletRe.FindStringSubmatch(trimmed); m != nil {
				cont = m[2]
			}
			lastClaim.Text = strings.TrimSpace(lastClaim.Text + " " + cont)
			lastClaim.Citations = Citations(lastClaim.Text)
			lastClaim.PlaceholderCandidate = hasPlaceholderPrefix(lastClaim.Text, prefixes)
			continue
		}

		if m := bulletRe.FindStringSubmatch(trimmed); m != nil && indent < 2 {
			claim := &Claim{
				Section: cur.Name,
				Ordinal: len(cur.Claims()),
				Text:    strings.TrimSpace(m[2]),
				Class:   Unclassified,
			}
			claim.Citations = Citations(claim.Text)
			claim.PlaceholderCandidate = hasPlaceholderPrefix(claim.Text, prefixes)
			cur.Items = append(cur.Items, Item{Claim: claim})
			lastClaim = claim
			continue
		}

		// Anything else is prose, kept verbatim. A blank or unindented line
		// closes the open claim.
		cur.Items = append(cur.Items, Item{Prose: line})
		lastClaim = nil
	}
	return doc
}

func hasPlaceholderPrefix(text string, prefixes []string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range prefixes {
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
