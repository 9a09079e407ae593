package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moritzWa/deeptable/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "deeptable",
	Short: "Research tables filled in by web-connected LLMs",
	Long:  "Asks several web-search LLM providers about each cell of a table, synthesizes one typed value with reasoning and sources, and keeps categorical columns' vocabularies consistent.",
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
