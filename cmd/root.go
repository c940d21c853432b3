package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leasebee/leasebee-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "leasebee",
	Short: "Review AI lease extractions from the terminal",
	Long:  "Watches lease extractions, walks reviewers through the extracted fields with resumable local progress, submits corrections and serves the LeaseBee API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		mode := "client"
		if cmd.Name() == serveCmd.Name() {
			mode = "serve"
		}
		if err := cfg.Validate(mode); err != nil {
			return fmt.Errorf("validate config: %w", err)
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
