package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/biocite/biocite/internal/cache"
)

var purgeMaxAge time.Duration

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the retrieval and LLM response cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := viper.GetString("cache.dir")
		if err := cache.ClearDir(dir); err != nil {
			return err
		}
		fmt.Printf("Cleared cache at %s\n", dir)
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove cached entries older than --max-age",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := viper.GetString("cache.dir")
		n, err := cache.PurgeByAge(dir, purgeMaxAge)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d entries older than %s from %s\n", n, purgeMaxAge, dir)
		return nil
	},
}

func init() {
	cachePurgeCmd.Flags().DurationVar(&purgeMaxAge, "max-age", 7*24*time.Hour, "age threshold for purging")
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
