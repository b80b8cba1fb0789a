package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quest-group/content-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "content-engine",
	Short: "Durable content production pipeline",
	Long:  "Runs topic-to-article and URL-to-company-profile workflows on Temporal: parallel research, LLM synthesis, sequenced image generation, and relational plus knowledge-graph persistence.",
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
