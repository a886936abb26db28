// Package cmd implements the housereno command line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "housereno",
	Short: "HouseReno - conversational assistant for a renovation business",
	Long: `HouseReno is a conversational assistant for a small renovation
business. It answers questions about project records and the billing
ledger, and carries out bookkeeping tasks (invoices, payments, project
status updates) requested in plain language.

Running housereno with no arguments starts the HTTP server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. HOUSERENO_DEBUG enables debug
// level; HOUSERENO_LOG_JSON switches to JSON output for log shippers.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("HOUSERENO_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{
		Level: level,
		JSON:  os.Getenv("HOUSERENO_LOG_JSON") != "",
	})
}
