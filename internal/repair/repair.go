// Package repair drives the citation verification and self-repair loop: it
// scores a report, asks the generator to rewrite only the unsupported
// claims, and re-enters the pipeline on the rebuilt text until the report
// converges or the iteration budget runs out.
package repair

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/biocite/biocite/internal/extract"
	"github.com/biocite/biocite/internal/prompt"
	"github.com/biocite/biocite/internal/report"
	"github.com/biocite/biocite/internal/score"
	"github.com/biocite/biocite/internal/snippet"
	"github.com/biocite/biocite/internal/validate"
)

// Generator is the opaque model-call boundary. A returned error is a
// failure (timeout, transport); it is distinct from a response that simply
// contains no usable bullet.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// StopReason records why the loop reached DONE.
type StopReason string

const (
	StopDisabled   StopReason = "repair_disabled"
	StopConverged  StopReason = "converged"
	StopBudget     StopReason = "budget_exhausted"
	StopNoProgress StopReason = "no_progress"
	StopCancelled  StopReason = "cancelled"
)

// Options bound one engine run.
type Options struct {
	Enabled       bool
	TargetRatio   float64
	MaxIterations int
	CallTimeout   time.Duration
	Extract       extract.Options
	Score         score.Policy
}

const (
	defaultTargetRatio   = 0.9
	defaultMaxIterations = 3
	defaultCallTimeout   = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.TargetRatio <= 0 {
		o.TargetRatio = defaultTargetRatio
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = defaultMaxIterations
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultCallTimeout
	}
	return o
}

// Outcome is the final artifact of one run: the (possibly repaired) report
// plus its metrics. Budget exhaustion is a normal, if low-trust, result.
type Outcome struct {
	ReportText        string        `json:"report"`
	MetricsAll        score.Metrics `json:"metrics_all"`
	MetricsPrimary    score.Metrics `json:"metrics_sec2"`
	TrustScorePercent float64       `json:"trust_score"`
	Iterations        int           `json:"iterations_used"`
	RepairCalls       int           `json:"repair_calls"`
	Stopped           StopReason    `json:"stopped"`
}

// Engine runs the SCORING → REPAIRING → SCORING state machine over one
// report. Engines are stateless across runs; each run owns its own index
// and documents, so concurrent runs need no locking.
type Engine struct {
	Generator Generator
}

// Run scores reportText against snippets and, when enabled, repairs
// unsupported claims until the coverage target, the iteration budget, or a
// no-progress pass stops it. Cancellation stops further repair but still
// returns the best report and metrics computed so far.
func (e *Engine) Run(ctx context.Context, reportText string, snippets []snippet.Snippet, opts Options) Outcome {
	opts = opts.withDefaults()
	idx := snippet.NewIndex(snippets)

	repairable := opts.Enabled && e.Generator != nil && idx.Len() > 0
	if opts.Enabled && !repairable {
		log.Warn().Int("snippets", idx.Len()).Msg("repair requested but not possible; scoring only")
	}

	text := reportText
	var out Outcome
	prevFingerprint := ""
	// A pass counts for no-progress detection unless every one of its
	// generator calls failed; failed calls mean the claims were never
	// actually rewritten and deserve a retry on the next iteration.
	prevPassEligible := false

	for {
		doc := extract.ParseWithOptions(text, opts.Extract)
		dangling := validate.Classify(doc, idx)
		all, primary := score.Compute(doc, opts.Score)

		out.ReportText = text
		out.MetricsAll = all
		out.MetricsPrimary = primary
		out.TrustScorePercent = score.Percent(all)

		if len(dangling) > 0 {
			log.Debug().Int("claims", len(dangling)).Msg("dangling citations detected")
		}

		switch {
		case !repairable:
			out.Stopped = StopDisabled
			return out
		case all.Ratio >= opts.TargetRatio:
			out.Stopped = StopConverged
			return out
		case out.Iterations >= opts.MaxIterations:
			out.Stopped = StopBudget
			return out
		}

		fp := claimFingerprint(doc)
		if prevPassEligible && fp == prevFingerprint {
			out.Stopped = StopNoProgress
			return out
		}
		prevFingerprint = fp

		if ctx.Err() != nil {
			out.Stopped = StopCancelled
			return out
		}

		// REPAIRING: one bounded generator call per unsupported claim. A
		// failed call leaves the claim for the next iteration.
		out.Iterations++
		overrides := map[report.ClaimRef]string{}
		attempted := 0
	pass:
		for si, sec := range doc.Sections {
			if !sec.Name.Scored() {
				continue
			}
			for _, c := range sec.Claims() {
				if c.Class != extract.Unsupported {
					continue
				}
				if ctx.Err() != nil {
					break pass
				}
				attempted++
				out.RepairCalls++
				fixed, err := e.repairClaim(ctx, c, idx, opts.CallTimeout)
				if err != nil {
					log.Warn().Err(err).
						Str("section", string(c.Section)).
						Int("ordinal", c.Ordinal).
						Int("iteration", out.Iterations).
						Msg("repair call failed; claim stays unsupported this pass")
					continue
				}
				overrides[report.ClaimRef{Section: si, Ordinal: c.Ordinal}] = fixed
			}
		}
		prevPassEligible = attempted == 0 || len(overrides) > 0

		text = report.Render(doc, idx, overrides)
		log.Debug().
			Int("iteration", out.Iterations).
			Int("repaired", len(overrides)).
			Float64("ratio", all.Ratio).
			Msg("repair pass complete")
	}
}

var bulletLineRe = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])\s+(.*)$`)

// repairClaim asks the generator for a replacement bullet. Any returned
// identifier not present in the index is rejected: the claim is forced into
// the placeholder phrase citing the first snippet in the index, so the loop
// never propagates an invented citation.
func (e *Engine) repairClaim(ctx context.Context, c *extract.Claim, idx *snippet.Index, timeout time.Duration) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := e.Generator.Generate(cctx, prompt.BuildRepair(c.Text, idx.All()))
	if err != nil {
		return "", err
	}

	line := firstBullet(raw)
	if line == "" {
		return fallbackClaim(idx), nil
	}
	cites := extract.Citations(line)
	if len(cites) == 0 {
		return fallbackClaim(idx), nil
	}
	for _, sid := range cites {
		if !idx.Has(sid) {
			log.Debug().Str("sid", sid).Msg("generator invented a citation; forcing placeholder")
			return fallbackClaim(idx), nil
		}
	}
	return line, nil
}

// firstBullet extracts the first usable bullet line from generator output,
// tolerating list markers and surrounding chatter.
func firstBullet(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if m := bulletLineRe.FindStringSubmatch(trimmed); m != nil {
			return strings.TrimSpace(m[1])
		}
		return trimmed
	}
	return ""
}

func fallbackClaim(idx *snippet.Index) string {
	first, ok := idx.First()
	if !ok {
		return extract.PlaceholderPhrase
	}
	return extract.PlaceholderPhrase + " [" + first.SID + "]"
}

// claimFingerprint serializes the scored claim texts so consecutive passes
// can detect a byte-identical claim set.
func claimFingerprint(doc *extract.Document) string {
	var b strings.Builder
	for _, c := range doc.ScoredClaims() {
		b.WriteString(string(c.Section))
		b.WriteString("\x1f")
		b.WriteString(c.Text)
		b.WriteString("\x1e")
	}
	return b.String()
}
