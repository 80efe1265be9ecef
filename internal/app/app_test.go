package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/biocite/biocite/internal/llm"
	"github.com/biocite/biocite/internal/repair"
)

type fakeLLM struct {
	reply string
	calls int
}

func (f *fakeLLM) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Content: f.reply}},
	}}, nil
}

const fixtureYAML = `- sid: S1
  title: Metformin HbA1c trial
  url: https://pubmed.ncbi.nlm.nih.gov/11/
  text: "[S1] Title: Metformin HbA1c trial"
- sid: S2
  title: AMPK mechanism study
  url: https://pubmed.ncbi.nlm.nih.gov/22/
  text: "[S2] Title: AMPK mechanism study"
`

const generatedReport = `## Evidence Summary

- Metformin lowered HbA1c in randomized trials [S1].

## Biological Rationale

- Metformin activates AMPK [S2].

## Safety Note

This is research support, not medical advice.
`

func testApp(t *testing.T, fake *fakeLLM) *App {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "snippets.yaml")
	if err := os.WriteFile(fixture, []byte(fixtureYAML), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cfg := Config{
		SnippetsFile: fixture,
		OutputDir:    filepath.Join(dir, "reports"),
		LLMModel:     "test-model",
	}.withDefaults()
	return &App{
		cfg:    cfg,
		synth:  &llm.Synthesizer{Client: fake, Model: cfg.LLMModel},
		engine: &repair.Engine{Generator: &llm.ChatGenerator{Client: fake, Model: cfg.LLMModel}},
	}
}

func TestRun_EndToEndWithFixtureSnippets(t *testing.T) {
	fake := &fakeLLM{reply: generatedReport}
	a := testApp(t, fake)

	res, err := a.Run(context.Background(), Query{Drug: "metformin", Disease: "type 2 diabetes", Repair: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome.TrustScorePercent != 100.0 {
		t.Fatalf("TrustScorePercent = %v, want 100.0", res.Outcome.TrustScorePercent)
	}
	if res.Outcome.Stopped != repair.StopConverged {
		t.Fatalf("Stopped = %q, want %q", res.Outcome.Stopped, repair.StopConverged)
	}
	if fake.calls != 1 {
		t.Fatalf("llm calls = %d, want 1 (synthesis only, no repair needed)", fake.calls)
	}
	if len(res.Snippets) != 2 {
		t.Fatalf("snippets = %d, want 2", len(res.Snippets))
	}
	if res.MarkdownPath == "" {
		t.Fatalf("markdown artifact not written")
	}
	data, err := os.ReadFile(res.MarkdownPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(data), "[S1]") {
		t.Fatalf("artifact missing cited claim:\n%s", data)
	}
}

func TestRun_RejectsBlankQuery(t *testing.T) {
	a := testApp(t, &fakeLLM{reply: generatedReport})
	if _, err := a.Run(context.Background(), Query{Drug: " ", Disease: "x"}); err == nil {
		t.Fatalf("expected error for blank drug")
	}
}

func TestRun_ScoringOnlyWhenRepairOff(t *testing.T) {
	dangling := strings.Replace(generatedReport, "[S2]", "[S9]", 1)
	fake := &fakeLLM{reply: dangling}
	a := testApp(t, fake)

	res, err := a.Run(context.Background(), Query{Drug: "metformin", Disease: "type 2 diabetes"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome.Stopped != repair.StopDisabled {
		t.Fatalf("Stopped = %q, want %q", res.Outcome.Stopped, repair.StopDisabled)
	}
	if res.Outcome.MetricsAll.Unsupported != 1 {
		t.Fatalf("Unsupported = %d, want 1", res.Outcome.MetricsAll.Unsupported)
	}
	if fake.calls != 1 {
		t.Fatalf("llm calls = %d, want synthesis only", fake.calls)
	}
}

func TestRun_EmptyFixtureIsRejected(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(fixture, []byte("[]\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	a := testApp(t, &fakeLLM{reply: generatedReport})
	a.cfg.SnippetsFile = fixture

	_, err := a.Run(context.Background(), Query{Drug: "metformin", Disease: "type 2 diabetes"})
	if err == nil || !strings.Contains(err.Error(), "no evidence snippets") {
		t.Fatalf("err = %v, want ErrNoSnippets", err)
	}
}
