package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/biocite/biocite/internal/app"
)

var (
	reportDrug     string
	reportDisease  string
	reportAgentic  bool
	reportPDF      bool
	reportSnippets string
	reportOut      string
)

// reportCmd runs the pipeline once and writes the report artifact.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a cited evidence report for a drug/disease question",
	Long: `Retrieve evidence, generate the report, verify its citations and print
the trust score. With --agentic, unsupported claims are repaired
iteratively until the coverage target is reached or the iteration budget
runs out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromViper()
		cfg.RepairEnabled = cfg.RepairEnabled || reportAgentic
		cfg.PDF = reportPDF
		if reportSnippets != "" {
			cfg.SnippetsFile = reportSnippets
		}
		if reportOut != "" {
			cfg.OutputDir = reportOut
		}

		ctx := cmd.Context()
		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}

		res, err := a.Run(ctx, app.Query{Drug: reportDrug, Disease: reportDisease, Repair: reportAgentic})
		if err != nil {
			return err
		}

		fmt.Printf("Trust score: %.1f%% (%d/%d claims supported", res.Outcome.TrustScorePercent,
			res.Outcome.MetricsAll.Supported+res.Outcome.MetricsAll.Placeholder, res.Outcome.MetricsAll.Total)
		fmt.Printf(", stopped: %s, iterations: %d)\n", res.Outcome.Stopped, res.Outcome.Iterations)
		if res.MarkdownPath != "" {
			fmt.Printf("Report written to %s\n", res.MarkdownPath)
		}
		if res.PDFPath != "" {
			fmt.Printf("PDF written to %s\n", res.PDFPath)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportDrug, "drug", "", "drug name to investigate (required)")
	reportCmd.Flags().StringVar(&reportDisease, "disease", "", "disease or condition (required)")
	reportCmd.Flags().BoolVar(&reportAgentic, "agentic", false, "repair unsupported claims iteratively")
	reportCmd.Flags().BoolVar(&reportPDF, "pdf", false, "also render the report as PDF")
	reportCmd.Flags().StringVar(&reportSnippets, "snippets", "", "YAML/JSON snippet fixture instead of live retrieval")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "output directory for report artifacts")
	_ = reportCmd.MarkFlagRequired("drug")
	_ = reportCmd.MarkFlagRequired("disease")

	rootCmd.AddCommand(reportCmd)
}

// configFromViper maps the configuration hierarchy onto the pipeline
// config. Flags override env vars, which override the config file.
func configFromViper() app.Config {
	return app.Config{
		LLMBaseURL:  viper.GetString("llm.base_url"),
		LLMModel:    viper.GetString("llm.model"),
		LLMAPIKey:   viper.GetString("llm.api_key"),
		Temperature: float32(viper.GetFloat64("llm.temperature")),

		NCBITool:      viper.GetString("ncbi.tool"),
		NCBIEmail:     viper.GetString("ncbi.email"),
		MaxPapers:     viper.GetInt("retrieval.max_papers"),
		MaxSnippets:   viper.GetInt("retrieval.max_snippets"),
		MaxActivities: viper.GetInt("retrieval.max_activities"),
		SortOrder:     viper.GetString("retrieval.sort"),

		RepairEnabled: viper.GetBool("repair.enabled"),
		TargetRatio:   viper.GetFloat64("repair.target_ratio"),
		MaxIterations: viper.GetInt("repair.max_iterations"),
		CallTimeout:   viper.GetDuration("repair.call_timeout"),
		EmptyIsZero:   viper.GetBool("score.empty_is_zero"),

		OutputDir: viper.GetString("output.dir"),
		CacheDir:  viper.GetString("cache.dir"),
		Verbose:   viper.GetBool("verbose"),
	}
}
