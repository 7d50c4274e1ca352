package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zwartekraai/dealsync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dealsync",
	Short: "Keep HubSpot deal stages in step with MultiPress",
	Long:  "Checks HubSpot deals in the active pipeline stages against their MultiPress quotation status, moves decided deals to Gewonnen or Verloren, and clears the follow-up tasks that pointed at them.",
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
