package app

import "time"

// Config holds runtime configuration for the application.
type Config struct {
	// LLM
	LLMBaseURL  string
	LLMModel    string
	LLMAPIKey   string
	Temperature float32

	// Retrieval
	NCBITool      string
	NCBIEmail     string
	MaxPapers     int
	MaxSnippets   int
	MaxActivities int
	SortOrder     string

	// SnippetsFile bypasses live retrieval and loads the evidence pack
	// from a YAML or JSON fixture instead.
	SnippetsFile string

	// Repair
	RepairEnabled bool
	TargetRatio   float64
	MaxIterations int
	CallTimeout   time.Duration

	// Scoring
	EmptyIsZero bool

	// Output
	OutputDir string
	PDF       bool

	// Behavior
	CacheDir string
	Verbose  bool
}

func (c Config) withDefaults() Config {
	if c.LLMModel == "" {
		c.LLMModel = "medgemma-4b-it"
	}
	if c.MaxPapers <= 0 {
		c.MaxPapers = 25
	}
	if c.MaxSnippets <= 0 {
		c.MaxSnippets = 10
	}
	if c.MaxActivities <= 0 {
		c.MaxActivities = 400
	}
	if c.SortOrder == "" {
		c.SortOrder = "relevance"
	}
	if c.NCBITool == "" {
		c.NCBITool = "biocite"
	}
	if c.OutputDir == "" {
		c.OutputDir = "reports"
	}
	return c
}
