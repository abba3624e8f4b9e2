// Package cascade 在线程被删除后清理其消息、媒体、记忆与工具缓存。
package cascade

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/easeaico/project-kairos/internal/apperr"
	"github.com/easeaico/project-kairos/internal/events"
	"github.com/easeaico/project-kairos/internal/observability"
	"github.com/easeaico/project-kairos/internal/storage"
	"github.com/easeaico/project-kairos/internal/types"
)

const mediaDeleteConcurrency = 8

type ThreadStore interface {
	MarkDeleted(ctx context.Context, ownerID, id string) (bool, error)
}

type MessageStore interface {
	DeleteThreadBatch(ctx context.Context, threadID string, limit int) ([]types.Message, error)
}

type MediaStore interface {
	Delete(ctx context.Context, ref string) error
}

type MemoryStore interface {
	DeleteByThread(ctx context.Context, threadID string) (int, error)
}

type ToolCache interface {
	Invalidate(ctx context.Context, ownerID, threadID string) error
}

// Result counts what one cascade removed.
type Result struct {
	Deleted         bool `json:"deleted"`
	MessagesDeleted int  `json:"messagesDeleted"`
	MediaDeleted    int  `json:"mediaDeleted"`
	MemoriesDeleted int  `json:"memoriesDeleted"`
}

type Cascade struct {
	threads   ThreadStore
	messages  MessageStore
	media     MediaStore
	memories  MemoryStore
	tools     ToolCache
	publisher events.Publisher
}

// New builds a cascade. media, tools and publisher may be nil.
func New(threads ThreadStore, messages MessageStore, memories MemoryStore, media MediaStore, tools ToolCache, publisher events.Publisher) *Cascade {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Cascade{
		threads:   threads,
		messages:  messages,
		media:     media,
		memories:  memories,
		tools:     tools,
		publisher: publisher,
	}
}

// DeleteThread soft-deletes the thread and, when this call performed the
// transition, hard-deletes everything that belongs to it. Repeating the call
// on a deleted thread is a no-op.
func (c *Cascade) DeleteThread(ctx context.Context, ownerID, threadID string) (Result, error) {
	const op = "DeleteThread"
	if ownerID == "" {
		return Result{}, apperr.New(apperr.Unauthenticated, op, "user must be authenticated")
	}
	transitioned, err := c.threads.MarkDeleted(ctx, ownerID, threadID)
	if err != nil {
		if apperr.KindOf(err) != apperr.Internal {
			return Result{}, err
		}
		return Result{}, apperr.Wrap(apperr.Internal, op, err)
	}
	if !transitioned {
		return Result{}, nil
	}

	res, err := c.Purge(ctx, ownerID, threadID)
	res.Deleted = true
	return res, err
}

// Purge removes the thread's messages, media and memories. Safe to repeat.
func (c *Cascade) Purge(ctx context.Context, ownerID, threadID string) (Result, error) {
	const op = "PurgeThread"
	ctx, span := observability.Tracer().Start(ctx, "cascade."+op, trace.WithAttributes(attribute.String("thread.id", threadID)))
	defer span.End()

	var res Result
	for {
		batch, err := c.messages.DeleteThreadBatch(ctx, threadID, storage.DeleteBatchSize)
		if err != nil {
			span.RecordError(err)
			return res, apperr.Wrap(apperr.Internal, op, err)
		}
		res.MessagesDeleted += len(batch)
		res.MediaDeleted += c.deleteMedia(ctx, batch)
		if len(batch) < storage.DeleteBatchSize {
			break
		}
	}

	n, err := c.memories.DeleteByThread(ctx, threadID)
	res.MemoriesDeleted = n
	if err != nil {
		span.RecordError(err)
		return res, apperr.Wrap(apperr.Internal, op, err)
	}

	if c.tools != nil {
		if err := c.tools.Invalidate(ctx, ownerID, threadID); err != nil {
			slog.Warn("failed to invalidate tool cache", "thread_id", threadID, "error", err.Error())
		}
	}

	e := events.New(events.ThreadDeleted, ownerID)
	e.ThreadID = threadID
	e.Data = map[string]any{
		"messagesDeleted": res.MessagesDeleted,
		"mediaDeleted":    res.MediaDeleted,
		"memoriesDeleted": res.MemoriesDeleted,
	}
	if err := c.publisher.Publish(ctx, e); err != nil {
		slog.Warn("failed to publish event", "type", e.Type, "error", err.Error())
	}

	slog.Info("thread purged",
		"thread_id", threadID,
		"messages", res.MessagesDeleted,
		"media", res.MediaDeleted,
		"memories", res.MemoriesDeleted,
	)
	return res, nil
}

// deleteMedia removes the batch's media objects. Individual failures are logged.
func (c *Cascade) deleteMedia(ctx context.Context, batch []types.Message) int {
	if c.media == nil {
		return 0
	}
	var refs []string
	for _, msg := range batch {
		if msg.MediaRef != nil && *msg.MediaRef != "" {
			refs = append(refs, *msg.MediaRef)
		}
	}
	if len(refs) == 0 {
		return 0
	}

	deleted := make([]bool, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mediaDeleteConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			if err := c.media.Delete(gctx, ref); err != nil {
				slog.Error("failed to delete media", "ref", ref, "error", err.Error())
				return nil
			}
			deleted[i] = true
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for _, ok := range deleted {
		if ok {
			count++
		}
	}
	return count
}
