package repair

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/biocite/biocite/internal/extract"
	"github.com/biocite/biocite/internal/score"
	"github.com/biocite/biocite/internal/snippet"
)

var testSnippets = []snippet.Snippet{
	{SID: "S1", Title: "Metformin and HbA1c", URL: "https://pubmed.ncbi.nlm.nih.gov/1/", Text: "Metformin lowers HbA1c."},
	{SID: "S2", Title: "AMPK activation", URL: "https://pubmed.ncbi.nlm.nih.gov/2/", Text: "Metformin activates AMPK."},
	{SID: "S3", Title: "Cardiovascular outcomes", URL: "https://pubmed.ncbi.nlm.nih.gov/3/", Text: "Cardiovascular outcomes cohort."},
}

const supportedReport = `# Question

Does metformin improve outcomes in type 2 diabetes?

## Evidence Summary

- Metformin lowers HbA1c by roughly one percent [S1].

## Biological Rationale

- Metformin activates AMPK in hepatocytes [S2].
`

const danglingReport = `# Question

Does metformin improve outcomes in type 2 diabetes?

## Evidence Summary

- Metformin lowers HbA1c by roughly one percent [S1].
- Metformin reduces cardiovascular mortality [S9].

## Biological Rationale

- Metformin activates AMPK in hepatocytes [S2].
`

// fixedGenerator returns the same reply (or error) on every call and
// counts how often it was asked.
type fixedGenerator struct {
	reply string
	err   error
	calls int
}

func (g *fixedGenerator) Generate(_ context.Context, _ string) (string, error) {
	g.calls++
	return g.reply, g.err
}

// scriptedGenerator plays back a fixed sequence of replies.
type scriptedGenerator struct {
	steps []func() (string, error)
	calls int
}

func (g *scriptedGenerator) Generate(_ context.Context, _ string) (string, error) {
	i := g.calls
	g.calls++
	if i >= len(g.steps) {
		return "", errors.New("generator called more often than scripted")
	}
	return g.steps[i]()
}

func enabledOpts() Options {
	return Options{Enabled: true, TargetRatio: 0.9, MaxIterations: 3}
}

func TestRun_ConvergedReportMakesNoCalls(t *testing.T) {
	gen := &fixedGenerator{reply: "- should never be used [S1]"}
	eng := &Engine{Generator: gen}

	out := eng.Run(context.Background(), supportedReport, testSnippets, enabledOpts())

	if out.Stopped != StopConverged {
		t.Fatalf("Stopped = %q, want %q", out.Stopped, StopConverged)
	}
	if gen.calls != 0 || out.RepairCalls != 0 {
		t.Fatalf("generator called %d times (RepairCalls=%d), want 0", gen.calls, out.RepairCalls)
	}
	if out.Iterations != 0 {
		t.Fatalf("Iterations = %d, want 0", out.Iterations)
	}
	if out.ReportText != supportedReport {
		t.Fatalf("converged report was modified")
	}
	if out.MetricsAll.Ratio != 1.0 {
		t.Fatalf("Ratio = %v, want 1.0", out.MetricsAll.Ratio)
	}
	if out.TrustScorePercent != 100.0 {
		t.Fatalf("TrustScorePercent = %v, want 100.0", out.TrustScorePercent)
	}
}

func TestRun_DisabledScoresWithoutRepair(t *testing.T) {
	gen := &fixedGenerator{reply: "- unused [S1]"}
	eng := &Engine{Generator: gen}
	opts := enabledOpts()
	opts.Enabled = false

	out := eng.Run(context.Background(), danglingReport, testSnippets, opts)

	if out.Stopped != StopDisabled {
		t.Fatalf("Stopped = %q, want %q", out.Stopped, StopDisabled)
	}
	if gen.calls != 0 {
		t.Fatalf("generator called %d times with repair disabled", gen.calls)
	}
	if out.MetricsAll.Unsupported != 1 {
		t.Fatalf("Unsupported = %d, want 1", out.MetricsAll.Unsupported)
	}
	if out.ReportText != danglingReport {
		t.Fatalf("report text modified in scoring-only mode")
	}
}

func TestRun_RepairsDanglingCitation(t *testing.T) {
	gen := &fixedGenerator{reply: "- Metformin reduced cardiovascular events in a large cohort [S3]."}
	eng := &Engine{Generator: gen}

	out := eng.Run(context.Background(), danglingReport, testSnippets, enabledOpts())

	if out.Stopped != StopConverged {
		t.Fatalf("Stopped = %q, want %q", out.Stopped, StopConverged)
	}
	if out.Iterations != 1 || out.RepairCalls != 1 {
		t.Fatalf("Iterations=%d RepairCalls=%d, want 1 and 1", out.Iterations, out.RepairCalls)
	}
	if out.MetricsAll.Unsupported != 0 || out.MetricsAll.Supported != 3 {
		t.Fatalf("metrics = %+v, want 3 supported and 0 unsupported", out.MetricsAll)
	}
	if !strings.Contains(out.ReportText, "[S3]") {
		t.Fatalf("repaired claim missing from report:\n%s", out.ReportText)
	}
	if strings.Contains(out.ReportText, "S9") {
		t.Fatalf("dangling citation survived repair:\n%s", out.ReportText)
	}
	if !strings.Contains(out.ReportText, "## Sources") {
		t.Fatalf("rebuilt report lacks a Sources block:\n%s", out.ReportText)
	}
	if !strings.Contains(out.ReportText, "S3: Cardiovascular outcomes") {
		t.Fatalf("Sources block missing entry for S3:\n%s", out.ReportText)
	}
}

func TestRun_InventedCitationForcesPlaceholder(t *testing.T) {
	gen := &fixedGenerator{reply: "- Metformin cures everything [S42]."}
	eng := &Engine{Generator: gen}

	out := eng.Run(context.Background(), danglingReport, testSnippets, enabledOpts())

	if out.Stopped != StopConverged {
		t.Fatalf("Stopped = %q, want %q", out.Stopped, StopConverged)
	}
	want := extract.PlaceholderPhrase + " [S1]"
	if !strings.Contains(out.ReportText, want) {
		t.Fatalf("expected forced placeholder %q in:\n%s", want, out.ReportText)
	}
	if strings.Contains(out.ReportText, "S42") {
		t.Fatalf("invented citation leaked into report:\n%s", out.ReportText)
	}
	if out.MetricsAll.Placeholder != 1 {
		t.Fatalf("Placeholder = %d, want 1", out.MetricsAll.Placeholder)
	}
}

func TestRun_GeneratorFailureExhaustsBudget(t *testing.T) {
	gen := &fixedGenerator{err: context.DeadlineExceeded}
	eng := &Engine{Generator: gen}

	out := eng.Run(context.Background(), danglingReport, testSnippets, enabledOpts())

	if out.Stopped != StopBudget {
		t.Fatalf("Stopped = %q, want %q", out.Stopped, StopBudget)
	}
	if out.Iterations != 3 {
		t.Fatalf("Iterations = %d, want 3", out.Iterations)
	}
	if out.RepairCalls != 3 {
		t.Fatalf("RepairCalls = %d, want one per iteration (3)", out.RepairCalls)
	}
	if out.MetricsAll.Unsupported != 1 {
		t.Fatalf("Unsupported = %d, want 1 after failed repairs", out.MetricsAll.Unsupported)
	}
}

func TestRun_RetriesFailedClaimOnNextIteration(t *testing.T) {
	gen := &scriptedGenerator{steps: []func() (string, error){
		func() (string, error) { return "", errors.New("model timeout") },
		func() (string, error) {
			return "- Metformin reduced cardiovascular events in a cohort [S3].", nil
		},
	}}
	eng := &Engine{Generator: gen}

	report := `## Evidence Summary

- Metformin reduces cardiovascular mortality [S9].
`
	out := eng.Run(context.Background(), report, testSnippets, enabledOpts())

	if out.Stopped != StopConverged {
		t.Fatalf("Stopped = %q, want %q", out.Stopped, StopConverged)
	}
	if out.Iterations != 2 || out.RepairCalls != 2 {
		t.Fatalf("Iterations=%d RepairCalls=%d, want 2 and 2", out.Iterations, out.RepairCalls)
	}
	if !strings.Contains(out.ReportText, "[S3]") {
		t.Fatalf("claim not repaired on retry:\n%s", out.ReportText)
	}
}

func TestRun_EmptyReportNoProgressUnderZeroPolicy(t *testing.T) {
	gen := &fixedGenerator{reply: "- unused [S1]"}
	eng := &Engine{Generator: gen}
	opts := enabledOpts()
	opts.Score = score.Policy{EmptyIsZero: true}

	out := eng.Run(context.Background(), "Some prose without any claims.\n", testSnippets, opts)

	if out.Stopped != StopNoProgress {
		t.Fatalf("Stopped = %q, want %q", out.Stopped, StopNoProgress)
	}
	if gen.calls != 0 {
		t.Fatalf("generator called %d times with nothing to repair", gen.calls)
	}
	if out.Iterations != 1 {
		t.Fatalf("Iterations = %d, want 1 (one empty pass, then stop)", out.Iterations)
	}
	if out.MetricsAll.Ratio != 0.0 {
		t.Fatalf("Ratio = %v, want 0.0 under EmptyIsZero", out.MetricsAll.Ratio)
	}
}

func TestRun_CancellationReturnsBestSoFar(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &scriptedGenerator{steps: []func() (string, error){
		func() (string, error) {
			cancel()
			return "", context.Canceled
		},
	}}
	eng := &Engine{Generator: gen}

	out := eng.Run(ctx, danglingReport, testSnippets, enabledOpts())

	if out.Stopped != StopCancelled {
		t.Fatalf("Stopped = %q, want %q", out.Stopped, StopCancelled)
	}
	if out.ReportText == "" {
		t.Fatalf("cancelled run returned no report")
	}
	if out.MetricsAll.Total != 3 {
		t.Fatalf("Total = %d, want metrics for the best-so-far report", out.MetricsAll.Total)
	}
	if out.RepairCalls != 1 {
		t.Fatalf("RepairCalls = %d, want 1", out.RepairCalls)
	}
}

func TestRun_UnsupportedNeverIncreases(t *testing.T) {
	// Two dangling claims; one repair succeeds per pass, the other fails.
	report := `## Evidence Summary

- First unsupported claim about dosing [S8].
- Second unsupported claim about mortality [S9].
`
	gen := &scriptedGenerator{steps: []func() (string, error){
		func() (string, error) { return "- Dosing effect confirmed in trial data [S1].", nil },
		func() (string, error) { return "", errors.New("model timeout") },
		func() (string, error) { return "- Mortality effect seen in cohort data [S3].", nil },
	}}
	eng := &Engine{Generator: gen}

	out := eng.Run(context.Background(), report, testSnippets, enabledOpts())

	if out.Stopped != StopConverged {
		t.Fatalf("Stopped = %q, want %q", out.Stopped, StopConverged)
	}
	if out.Iterations != 2 || out.RepairCalls != 3 {
		t.Fatalf("Iterations=%d RepairCalls=%d, want 2 and 3", out.Iterations, out.RepairCalls)
	}
	if out.MetricsAll.Unsupported != 0 {
		t.Fatalf("Unsupported = %d, want 0 after convergence", out.MetricsAll.Unsupported)
	}
}

func TestRun_DuplicateHeadingsRepairIndependently(t *testing.T) {
	// A generated report can repeat a heading; repairs in the second
	// occurrence must not overwrite or inherit repairs from the first.
	report := `## Evidence Summary

- First claim about dosing [S8].

## Evidence Summary

- Second claim about mortality [S9].
`
	gen := &scriptedGenerator{steps: []func() (string, error){
		func() (string, error) { return "- Dosing effect confirmed [S1].", nil },
		func() (string, error) { return "- Mortality effect observed [S3].", nil },
	}}
	eng := &Engine{Generator: gen}

	out := eng.Run(context.Background(), report, testSnippets, enabledOpts())

	if out.Stopped != StopConverged {
		t.Fatalf("Stopped = %q, want %q", out.Stopped, StopConverged)
	}
	if !strings.Contains(out.ReportText, "Dosing effect confirmed [S1].") {
		t.Fatalf("first section's repair missing:\n%s", out.ReportText)
	}
	if !strings.Contains(out.ReportText, "Mortality effect observed [S3].") {
		t.Fatalf("second section's repair missing:\n%s", out.ReportText)
	}
	if strings.Count(out.ReportText, "Mortality effect observed") != 1 {
		t.Fatalf("one repair text must not be applied to both claims:\n%s", out.ReportText)
	}
}

func TestFirstBullet(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"- Claim text [S1].", "Claim text [S1]."},
		{"* Claim text [S1].", "Claim text [S1]."},
		{"1) Claim text [S1].", "Claim text [S1]."},
		{"\nHere is the rewritten claim:\n", "Here is the rewritten claim:"},
		{"\n\n- Indented after blanks [S2].", "Indented after blanks [S2]."},
		{"", ""},
		{"   \n  \n", ""},
	}
	for _, tc := range cases {
		if got := firstBullet(tc.in); got != tc.want {
			t.Fatalf("firstBullet(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
