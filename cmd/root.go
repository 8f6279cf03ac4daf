package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "repairer-sync",
	Short: "Geo-scoped scraping and reconciliation of repair shops",
	Long: "Crawls map, web-search and AI sources city by city for a department, region or the whole country, " +
		"normalizes, geocodes and optionally classifies each candidate, and reconciles it into a single repairer table.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
