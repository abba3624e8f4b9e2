package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/easeaico/project-kairos/internal/app"
	"github.com/easeaico/project-kairos/internal/config"
)

func loadApp(ctx context.Context) (*app.App, error) {
	v, err := config.NewViper()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Read(v)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func newDailyInsightsCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "daily-insights",
		Short: "Run the daily insight snapshot once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if owner != "" {
				insight, created, err := a.Insights.DailySnapshot(cmd.Context(), owner, time.Now())
				if err != nil {
					return err
				}
				if insight == nil {
					fmt.Println("No thread insights in the last 24h, nothing to snapshot")
					return nil
				}
				fmt.Printf("Snapshot %s (created=%t, mood=%.2f, emotion=%s)\n", insight.ID, created, insight.MoodScore, insight.DominantEmotion)
				return nil
			}

			summary, err := a.DailyJob.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Only snapshot this owner")
	return cmd
}

func newBackfillCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "backfill-memories",
		Short: "Promote an owner's existing insights to memories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if owner == "" {
				return errors.New("--owner is required")
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Memory.Backfill(cmd.Context(), owner)
			if err != nil {
				return err
			}
			fmt.Printf("Promoted %d insight(s) to memories\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner to backfill")
	return cmd
}

func newMemoryStatsCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "memory-stats",
		Short: "Show memory counts by source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if owner == "" {
				return errors.New("--owner is required")
			}
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Memories.Stats(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner to inspect")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
