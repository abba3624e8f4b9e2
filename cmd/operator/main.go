// Package main provides the operator CLI for deployment and operations tasks.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/easeaico/project-kairos/internal/observability"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "kairos operator - deployment and operations CLI",
		Long: `kairos operator - deployment and operations CLI

Examples:
  operator migrate                       # Create or update application tables
  operator schema --file 001_extra.sql   # Execute a SQL file from migrations/
  operator validate                      # Check configuration and connectivity
  operator daily-insights                # Run the daily insight job once
  operator backfill-memories --owner u1  # Promote existing daily insights to memories
  operator memory-stats --owner u1       # Show memory counts by source`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := "info"
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				level = "debug"
			}
			slog.SetDefault(observability.NewLogger(os.Stderr, level, "text"))
		},
	}
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")

	cmd.AddCommand(
		newMigrateCmd(),
		newSchemaCmd(),
		newValidateCmd(),
		newDailyInsightsCmd(),
		newBackfillCmd(),
		newMemoryStatsCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(*cobra.Command, []string) {
				fmt.Printf("kairos operator v%s\n", version)
			},
		},
	)
	return cmd
}
