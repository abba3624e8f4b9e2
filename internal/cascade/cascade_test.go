package cascade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/easeaico/project-kairos/internal/apperr"
	"github.com/easeaico/project-kairos/internal/events"
	"github.com/easeaico/project-kairos/internal/storage"
	"github.com/easeaico/project-kairos/internal/types"
)

type fakeMedia struct {
	mu      sync.Mutex
	deleted []string
	fail    string
}

func (f *fakeMedia) Delete(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ref == f.fail {
		return errors.New("permission denied")
	}
	f.deleted = append(f.deleted, ref)
	return nil
}

type fakeMemories struct {
	threads []string
}

func (f *fakeMemories) DeleteByThread(_ context.Context, threadID string) (int, error) {
	f.threads = append(f.threads, threadID)
	return 3, nil
}

type fakeTools struct {
	invalidated []string
}

func (f *fakeTools) Invalidate(_ context.Context, ownerID, threadID string) error {
	f.invalidated = append(f.invalidated, ownerID+":"+threadID)
	return nil
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(context.Background(), "sqlite://:memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestDeleteThreadCascades(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	thread := &types.Thread{OwnerID: "u1", Title: "t"}
	if err := store.Threads.Create(ctx, thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	const total = storage.DeleteBatchSize + 20
	for i := 0; i < total; i++ {
		msg := &types.Message{ThreadID: thread.ID, OwnerID: "u1", Content: types.StringPtr("x"), Status: types.StatusProcessed}
		if i < 3 {
			msg.Type = types.MessageImage
			msg.MediaRef = types.StringPtr(fmt.Sprintf("u1/img-%d.jpg", i))
		}
		if err := store.Messages.Create(ctx, msg); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}

	media := &fakeMedia{fail: "u1/img-2.jpg"}
	memories := &fakeMemories{}
	tools := &fakeTools{}
	recorder := events.NewRecorder(4)
	c := New(store.Threads, store.Messages, memories, media, tools, recorder)

	res, err := c.DeleteThread(ctx, "u1", thread.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Deleted || res.MessagesDeleted != total || res.MediaDeleted != 2 || res.MemoriesDeleted != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	remaining, _ := store.Messages.ListRecent(ctx, "u1", thread.ID, "", 10)
	if len(remaining) != 0 {
		t.Fatalf("expected no messages left, got %d", len(remaining))
	}
	if len(tools.invalidated) != 1 || tools.invalidated[0] != "u1:"+thread.ID {
		t.Fatalf("expected tool cache invalidation, got %v", tools.invalidated)
	}
	if evs := recorder.Events(); len(evs) != 1 || evs[0].Type != events.ThreadDeleted {
		t.Fatalf("expected thread.deleted event, got %+v", evs)
	}

	again, err := c.DeleteThread(ctx, "u1", thread.ID)
	if err != nil || again.Deleted {
		t.Fatalf("expected idempotent no-op, got %+v %v", again, err)
	}
	if len(memories.threads) != 1 {
		t.Fatalf("expected one memory purge, got %d", len(memories.threads))
	}
}

func TestDeleteThreadOwnership(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	thread := &types.Thread{OwnerID: "u1"}
	_ = store.Threads.Create(ctx, thread)
	c := New(store.Threads, store.Messages, &fakeMemories{}, nil, nil, nil)

	if _, err := c.DeleteThread(ctx, "", thread.ID); !apperr.IsKind(err, apperr.Unauthenticated) {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	if _, err := c.DeleteThread(ctx, "u2", thread.ID); !apperr.IsKind(err, apperr.PermissionDenied) {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
	if _, err := c.DeleteThread(ctx, "u1", "missing"); !apperr.IsKind(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
