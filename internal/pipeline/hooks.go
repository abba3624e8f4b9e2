package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/easeaico/project-kairos/internal/callback"
	"github.com/easeaico/project-kairos/internal/memory"
	"github.com/easeaico/project-kairos/internal/types"
)

type Ingester interface {
	Ingest(ctx context.Context, req memory.IngestRequest) (memory.IngestResult, error)
}

type InsightRefresher interface {
	RefreshThread(ctx context.Context, ownerID, threadID string, now time.Time) (*types.Insight, error)
	RefreshGlobal(ctx context.Context, ownerID string, now time.Time) (*types.Insight, error)
}

// IngestHook extracts facts from the finished exchange.
func IngestHook(m Ingester) callback.Hook[Completed] {
	return callback.Hook[Completed]{
		Name: "ingest_memories",
		Fn: func(ctx context.Context, done Completed) error {
			userText := done.Source.Text()
			if userText == "" && done.Source.MediaDescription != nil {
				userText = *done.Source.MediaDescription
			}
			if userText == "" {
				return nil
			}
			res, err := m.Ingest(ctx, memory.IngestRequest{
				OwnerID:   done.Source.OwnerID,
				ThreadID:  done.Source.ThreadID,
				MessageID: done.Source.ID,
				UserText:  userText,
				AIText:    done.Result.Text,
			})
			if err != nil {
				return fmt.Errorf("failed to ingest memories: %w", err)
			}
			slog.Info("memories ingested", "message_id", done.Source.ID, "facts", res.FactsExtracted)
			return nil
		},
	}
}

// InsightHook refreshes the thread insight, then the owner's global one.
func InsightHook(r InsightRefresher) callback.Hook[Completed] {
	return callback.Hook[Completed]{
		Name: "refresh_insights",
		Fn: func(ctx context.Context, done Completed) error {
			now := time.Now().UTC()
			if _, err := r.RefreshThread(ctx, done.Source.OwnerID, done.Source.ThreadID, now); err != nil {
				return fmt.Errorf("failed to refresh thread insight: %w", err)
			}
			if _, err := r.RefreshGlobal(ctx, done.Source.OwnerID, now); err != nil {
				return fmt.Errorf("failed to refresh global insight: %w", err)
			}
			return nil
		},
	}
}
