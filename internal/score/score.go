// Package score aggregates claim classifications into coverage metrics.
package score

import (
	"math"

	"github.com/biocite/biocite/internal/extract"
)

// Metrics is pure derived data, recomputed on every pass and never cached
// across report versions.
type Metrics struct {
	Total       int     `json:"total"`
	Supported   int     `json:"supported"`
	Unsupported int     `json:"unsupported"`
	Placeholder int     `json:"placeholder"`
	Ratio       float64 `json:"ratio"`
}

// Policy names the empty-report decision. Treating zero claims as fully
// covered is the historical behavior; the zero alternative is equally
// defensible, so it is an option rather than a law.
type Policy struct {
	EmptyIsZero bool
}

// Compute returns metrics over all scored sections and over the Evidence
// Summary section alone. The latter carries the highest scientific weight;
// the other sections are informative but not safety-critical.
func Compute(doc *extract.Document, pol Policy) (all Metrics, primary Metrics) {
	all = tally(doc.ScoredClaims(), pol)
	var primaryClaims []*extract.Claim
	if sec := doc.Section(extract.EvidenceSummary); sec != nil {
		primaryClaims = sec.Claims()
	}
	primary = tally(primaryClaims, pol)
	return all, primary
}

func tally(claims []*extract.Claim, pol Policy) Metrics {
	var m Metrics
	for _, c := range claims {
		m.Total++
		switch c.Class {
		case extract.Supported:
			m.Supported++
		case extract.Placeholder:
			m.Placeholder++
		default:
			m.Unsupported++
		}
	}
	if m.Total == 0 {
		if pol.EmptyIsZero {
			m.Ratio = 0.0
		} else {
			m.Ratio = 1.0
		}
		return m
	}
	m.Ratio = float64(m.Supported+m.Placeholder) / float64(m.Total)
	return m
}

// Percent converts a coverage ratio to a percentage rounded to one decimal
// place, half away from zero.
func Percent(m Metrics) float64 {
	return roundHalfAway(m.Ratio*100, 1)
}

func roundHalfAway(x float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	if x < 0 {
		return -math.Floor(-x*pow+0.5) / pow
	}
	return math.Floor(x*pow+0.5) / pow
}
