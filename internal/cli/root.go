// Package cli implements the cuw command-line interface.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/j-veylop/claude-usage-watch/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "cuw",
	Short: "claude-usage-watch - rolling quota monitor for claude.ai",
	Long: `claude-usage-watch polls claude.ai usage against the rolling
five-hour session window and the seven-day weekly window, and raises
desktop and webhook alerts when configured thresholds are crossed.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the configuration from .env files and environment.
func loadConfig() (*config.Config, error) {
	return config.Load()
}
