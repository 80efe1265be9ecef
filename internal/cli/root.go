// Package cli wires the cobra command tree and viper configuration for the
// biocite tool.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "biocite",
	Short: "Biocite - grounded biomedical evidence reports with verified citations",
	Long: `Biocite investigates a drug/disease question by retrieving PubMed
abstracts and ChEMBL molecular context, asking a local LLM to write a
structured evidence report, and then verifying every claim's [S#]
citations against the retrieved snippets.

Unsupported claims can be repaired iteratively until the report reaches
the configured trust-score target. The trust score is reported with every
run; a low score means the model asserted more than the evidence supports.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("biocite v0.1.0")
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.biocite/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.biocite")
			viper.SetConfigType("yaml")
			viper.SetConfigName("config")
		}
	}

	viper.SetEnvPrefix("BIOCITE")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func setDefaults() {
	viper.SetDefault("llm.base_url", "http://localhost:1234/v1")
	viper.SetDefault("llm.model", "medgemma-4b-it")
	viper.SetDefault("llm.api_key", "lm-studio")
	viper.SetDefault("llm.temperature", 0.2)

	viper.SetDefault("ncbi.tool", "biocite")
	viper.SetDefault("ncbi.email", "")
	viper.SetDefault("retrieval.max_papers", 25)
	viper.SetDefault("retrieval.max_snippets", 10)
	viper.SetDefault("retrieval.max_activities", 400)
	viper.SetDefault("retrieval.sort", "relevance")

	viper.SetDefault("repair.target_ratio", 0.9)
	viper.SetDefault("repair.max_iterations", 3)
	viper.SetDefault("repair.call_timeout", 30*time.Second)

	viper.SetDefault("output.dir", "reports")
	viper.SetDefault("cache.dir", ".biocite-cache")
}
