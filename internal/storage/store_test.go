package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/easeaico/project-kairos/internal/apperr"
	"github.com/easeaico/project-kairos/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	return store
}

func seedThread(t *testing.T, store *Store, owner string) *types.Thread {
	t.Helper()
	thread := &types.Thread{OwnerID: owner, Title: "journal"}
	if err := store.Threads.Create(context.Background(), thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return thread
}

func seedMessage(t *testing.T, store *Store, thread *types.Thread, status types.MessageStatus, text string) *types.Message {
	t.Helper()
	msg := &types.Message{
		ThreadID: thread.ID,
		OwnerID:  thread.OwnerID,
		Role:     types.RoleUser,
		Type:     types.MessageText,
		Content:  types.StringPtr(text),
		Status:   status,
	}
	if err := store.Messages.Create(context.Background(), msg); err != nil {
		t.Fatalf("create message: %v", err)
	}
	return msg
}

func TestTransitionIsCompareAndSwap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	thread := seedThread(t, store, "u1")
	msg := seedMessage(t, store, thread, types.StatusLocalCreated, "hello")

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		invalid int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Messages.Transition(ctx, msg.ID, Transition{
				From:         types.StatusLocalCreated,
				To:           types.StatusProcessingAI,
				CountAttempt: true,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case apperr.IsKind(err, apperr.InvalidState):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 1 || invalid != callers-1 {
		t.Fatalf("expected 1 winner and %d invalid, got %d/%d", callers-1, success, invalid)
	}
	got, err := store.Messages.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != types.StatusProcessingAI || got.AttemptCount != 1 {
		t.Fatalf("unexpected message after transition: status=%s attempts=%d", got.Status, got.AttemptCount)
	}
}

func TestCompleteReplyRequiresProcessing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	thread := seedThread(t, store, "u1")
	msg := seedMessage(t, store, thread, types.StatusLocalCreated, "hello")

	reply := &types.Message{ThreadID: thread.ID, OwnerID: "u1", Role: types.RoleAI, Content: types.StringPtr("hi"), Status: types.StatusProcessed}
	if err := store.Messages.CompleteReply(ctx, msg.ID, reply); !apperr.IsKind(err, apperr.InvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if err := store.Messages.Transition(ctx, msg.ID, Transition{From: types.StatusLocalCreated, To: types.StatusProcessingAI}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	reply.ID = ""
	if err := store.Messages.CompleteReply(ctx, msg.ID, reply); err != nil {
		t.Fatalf("CompleteReply returned error: %v", err)
	}
	second := &types.Message{ThreadID: thread.ID, OwnerID: "u1", Role: types.RoleAI, Content: types.StringPtr("again"), Status: types.StatusProcessed}
	if err := store.Messages.CompleteReply(ctx, msg.ID, second); !apperr.IsKind(err, apperr.InvalidState) {
		t.Fatalf("expected second completion to be rejected, got %v", err)
	}

	count, err := store.Threads.ReconcileMessageCount(ctx, thread.ID)
	if err != nil {
		t.Fatalf("ReconcileMessageCount returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 messages (source + one reply), got %d", count)
	}
}

func TestListRecentExcludesAndOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	thread := seedThread(t, store, "u1")
	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i, text := range []string{"one", "two", "three", "four"} {
		msg := &types.Message{ThreadID: thread.ID, OwnerID: "u1", Content: types.StringPtr(text), CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.Messages.Create(ctx, msg); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	got, err := store.Messages.ListRecent(ctx, "u1", thread.ID, ids[3], 2)
	if err != nil {
		t.Fatalf("ListRecent returned error: %v", err)
	}
	if len(got) != 2 || got[0].Text() != "two" || got[1].Text() != "three" {
		t.Fatalf("unexpected window: %+v", got)
	}

	other, err := store.Messages.ListRecent(ctx, "u2", thread.ID, "", 10)
	if err != nil {
		t.Fatalf("ListRecent returned error: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no messages for another owner, got %d", len(other))
	}
}

func TestSearchSimilarIsOwnerScoped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, mem := range []types.Memory{
		{OwnerID: "a", Content: "a near", Embedding: []float32{1, 0, 0}, Source: types.SourceAutoExtracted},
		{OwnerID: "a", Content: "a far", Embedding: []float32{0, 1, 0}, Source: types.SourceAutoExtracted},
		{OwnerID: "b", Content: "b exact", Embedding: []float32{1, 0, 0}, Source: types.SourceAutoExtracted},
	} {
		mem := mem
		if err := store.Memories.Create(ctx, &mem); err != nil {
			t.Fatalf("create memory: %v", err)
		}
	}

	results, err := store.Memories.SearchSimilar(ctx, "a", []float32{1, 0.1, 0}, 5)
	if err != nil {
		t.Fatalf("SearchSimilar returned error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results for owner a, got %d", len(results))
	}
	if results[0].Content != "a near" {
		t.Fatalf("expected nearest first, got %q", results[0].Content)
	}
	for _, r := range results {
		if r.OwnerID != "a" {
			t.Fatalf("leaked memory of owner %s", r.OwnerID)
		}
	}

	if _, err := store.Memories.SearchSimilar(ctx, "", []float32{1, 0, 0}, 5); err == nil {
		t.Fatalf("expected error for empty owner")
	}
}

func TestListByCategoryAndStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mems := []types.Memory{
		{OwnerID: "a", Content: "career fact", Source: types.SourceAutoExtracted, Categories: []types.Category{types.CategoryCareer}},
		{OwnerID: "a", Content: "health fact", Source: types.SourceUserConfirmed, Categories: []types.Category{types.CategoryHealth, types.CategoryMindset}},
		{OwnerID: "b", Content: "other career", Source: types.SourceInsight, Categories: []types.Category{types.CategoryCareer}},
	}
	for i := range mems {
		if err := store.Memories.Create(ctx, &mems[i]); err != nil {
			t.Fatalf("create memory: %v", err)
		}
	}

	got, err := store.Memories.ListByCategory(ctx, "a", types.CategoryCareer, 50)
	if err != nil {
		t.Fatalf("ListByCategory returned error: %v", err)
	}
	if len(got) != 1 || got[0].Content != "career fact" {
		t.Fatalf("unexpected category memories: %+v", got)
	}

	stats, err := store.Memories.Stats(ctx, "a")
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.Total != 2 || stats.AutoExtracted != 1 || stats.UserConfirmed != 1 || stats.Insight != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestInsightCreateIfAbsentIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	insight := &types.Insight{ID: "u1_daily_1", OwnerID: "u1", Type: types.InsightDailyGlobal, Period: types.PeriodDaily, PeriodStart: now, PeriodEnd: now, Summary: "first", CreatedAt: now, UpdatedAt: now}

	created, err := store.Insights.CreateIfAbsent(ctx, insight)
	if err != nil || !created {
		t.Fatalf("expected first insert to create, got %v %v", created, err)
	}
	again := *insight
	again.Summary = "second"
	created, err = store.Insights.CreateIfAbsent(ctx, &again)
	if err != nil || created {
		t.Fatalf("expected second insert to be ignored, got %v %v", created, err)
	}
	stored, err := store.Insights.Get(ctx, insight.ID)
	if err != nil || stored == nil || stored.Summary != "first" {
		t.Fatalf("expected original snapshot to survive, got %+v %v", stored, err)
	}
}

func TestInsightUpsertKeepsPeriodStart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)
	threadID := "t1"
	insight := &types.Insight{ID: "u1_t1_1", OwnerID: "u1", Type: types.InsightThread, ThreadID: &threadID, PeriodStart: start, PeriodEnd: start, Keywords: []string{"work"}}
	if err := store.Insights.Upsert(ctx, insight); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	update := *insight
	update.PeriodStart = time.Now().UTC()
	update.PeriodEnd = time.Now().UTC().Truncate(time.Second)
	update.Summary = "updated"
	if err := store.Insights.Upsert(ctx, &update); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	latest, err := store.Insights.LatestForThread(ctx, "u1", threadID)
	if err != nil || latest == nil {
		t.Fatalf("LatestForThread returned %v %v", latest, err)
	}
	if latest.Summary != "updated" || !latest.PeriodStart.Equal(start) {
		t.Fatalf("unexpected upserted insight: %+v", latest)
	}
}

func TestDeleteThreadBatchRemovesEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	thread := seedThread(t, store, "u1")
	for i := 0; i < 4; i++ {
		seedMessage(t, store, thread, types.StatusProcessed, "entry")
	}
	hidden := &types.Message{ThreadID: thread.ID, OwnerID: "u1", Content: types.StringPtr("hidden"), IsDeleted: true}
	if err := store.Messages.Create(ctx, hidden); err != nil {
		t.Fatalf("create: %v", err)
	}

	total := 0
	for {
		batch, err := store.Messages.DeleteThreadBatch(ctx, thread.ID, 2)
		if err != nil {
			t.Fatalf("DeleteThreadBatch returned error: %v", err)
		}
		if len(batch) == 0 {
			break
		}
		if len(batch) > 2 {
			t.Fatalf("batch exceeded limit: %d", len(batch))
		}
		total += len(batch)
	}
	if total != 5 {
		t.Fatalf("expected 5 deleted messages, got %d", total)
	}
}

func TestMarkDeletedTransitionsOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	thread := seedThread(t, store, "u1")

	if _, err := store.Threads.MarkDeleted(ctx, "u2", thread.ID); !apperr.IsKind(err, apperr.PermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	first, err := store.Threads.MarkDeleted(ctx, "u1", thread.ID)
	if err != nil || !first {
		t.Fatalf("expected first delete to transition, got %v %v", first, err)
	}
	second, err := store.Threads.MarkDeleted(ctx, "u1", thread.ID)
	if err != nil || second {
		t.Fatalf("expected second delete to be a no-op, got %v %v", second, err)
	}
	if _, err := store.Threads.MarkDeleted(ctx, "u1", "missing"); !apperr.IsKind(err, apperr.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPreferencesDefault(t *testing.T) {
	store := newTestStore(t)
	prefs, err := store.Profiles.GetPreferences(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPreferences returned error: %v", err)
	}
	if prefs.PreferredTone != "supportive and empathetic" || prefs.Language != "en" || !prefs.NotificationsEnabled {
		t.Fatalf("unexpected defaults: %+v", prefs)
	}
}
