package snippet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// Snippet is a single retrieved evidence excerpt. The SID is the identifier
// cited in report bodies as [S1], [S2] and so on. Snippets are immutable
// once loaded; the Index owns them for the lifetime of one report request.
type Snippet struct {
	SID   string `json:"sid" yaml:"sid"`
	Title string `json:"title" yaml:"title"`
	URL   string `json:"url" yaml:"url"`
	Text  string `json:"text" yaml:"text"`
}

// Index is an immutable lookup from SID to snippet, preserving load order.
type Index struct {
	order []string
	byID  map[string]Snippet
}

// NewIndex builds an index from an ordered snippet list. A duplicated SID
// keeps the first occurrence; snippets with an empty SID are skipped.
func NewIndex(list []Snippet) *Index {
	ix := &Index{byID: make(map[string]Snippet, len(list))}
	for _, s := range list {
		sid := strings.TrimSpace(s.SID)
		if sid == "" {
			continue
		}
		if _, ok := ix.byID[sid]; ok {
			continue
		}
		s.SID = sid
		ix.byID[sid] = s
		ix.order = append(ix.order, sid)
	}
	return ix
}

// Get returns the snippet for sid.
func (ix *Index) Get(sid string) (Snippet, bool) {
	s, ok := ix.byID[sid]
	return s, ok
}

// Has reports whether sid resolves in the index.
func (ix *Index) Has(sid string) bool {
	_, ok := ix.byID[sid]
	return ok
}

// Len returns the number of indexed snippets.
func (ix *Index) Len() int { return len(ix.order) }

// First returns the first snippet in load order. It is the deterministic
// fallback citation target when a repair produces no usable identifier.
func (ix *Index) First() (Snippet, bool) {
	if len(ix.order) == 0 {
		return Snippet{}, false
	}
	return ix.byID[ix.order[0]], true
}

// SIDs returns all identifiers in load order.
func (ix *Index) SIDs() []string {
	out := make([]string, len(ix.order))
	copy(out, ix.order)
	return out
}

// All returns all snippets in load order.
func (ix *Index) All() []Snippet {
	out := make([]Snippet, 0, len(ix.order))
	for _, sid := range ix.order {
		out = append(out, ix.byID[sid])
	}
	return out
}

// LoadFile reads snippets from a YAML or JSON fixture file. The format is
// chosen by extension; anything that is not .json parses as YAML, which is a
// superset of the JSON case anyway.
func LoadFile(path string) ([]Snippet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snippets file: %w", err)
	}
	var list []Snippet
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("parse snippets json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("parse snippets yaml: %w", err)
		}
	}
	return list, nil
}
