package insight

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/easeaico/project-kairos/internal/llm"
	"github.com/easeaico/project-kairos/internal/storage"
	"github.com/easeaico/project-kairos/internal/types"
)

type fakeGenerator struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeGenerator) Generate(_ context.Context, _ llm.Request) (llm.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return llm.Result{Text: f.text}, f.err
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

func seedConversation(t *testing.T, store *storage.Store, owner string, at time.Time) *types.Thread {
	t.Helper()
	ctx := context.Background()
	thread := &types.Thread{OwnerID: owner, Title: "journal"}
	if err := store.Threads.Create(ctx, thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	for i, text := range []string{"Work deadlines keep piling up", "Deadlines sound stressful, what helps?"} {
		role := types.RoleUser
		if i == 1 {
			role = types.RoleAI
		}
		msg := &types.Message{
			ThreadID:  thread.ID,
			OwnerID:   owner,
			Role:      role,
			Content:   types.StringPtr(text),
			Status:    types.StatusProcessed,
			CreatedAt: at.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Messages.Create(ctx, msg); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}
	return thread
}

const analysisJSON = `{"moodScore": 1.4, "dominantEmotion": "stress", "aiThemes": ["a","b","c","d","e","f"], "summary": "You are carrying a lot."}`

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords([]string{
		"Work, work and more WORK! Running helps.",
		"I think running and sleep matter; work too.",
	})
	if len(got) < 3 || got[0] != "work" || got[1] != "running" {
		t.Fatalf("expected frequency ranking, got %v", got)
	}
	for _, w := range got {
		if len(w) <= 3 || w == "that" {
			t.Fatalf("unexpected keyword %q", w)
		}
	}
	if got[2] != "more" {
		t.Fatalf("expected first-occurrence tie order, got %v", got)
	}
}

func TestParseAnalysis(t *testing.T) {
	a, err := ParseAnalysis("```json\n" + analysisJSON + "\n```")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if a.MoodScore != 1 || a.DominantEmotion != types.EmotionStress || len(a.Themes) != 5 {
		t.Fatalf("unexpected analysis: %+v", a)
	}
	a, err = ParseAnalysis(`{"moodScore": -2, "dominantEmotion": 7, "aiThemes": [], "summary": "x"}`)
	if err != nil || a.MoodScore != 0 || a.DominantEmotion != types.EmotionExcitement {
		t.Fatalf("unexpected analysis: %+v %v", a, err)
	}
	if _, err := ParseAnalysis("I feel the user is fine"); err == nil {
		t.Fatalf("expected error for prose output")
	}
}

func TestAnalyzerFallsBackOnBadOutput(t *testing.T) {
	a, err := NewAnalyzer(&fakeGenerator{text: "not json"}).Analyze(context.Background(), []types.Message{{Role: types.RoleUser}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if a.Summary != "Analysis unavailable at this time." || a.DominantEmotion != types.EmotionNeutral || a.MoodScore != 0.5 {
		t.Fatalf("expected fallback analysis, got %+v", a)
	}
}

func TestConversationUsesMediaPlaceholder(t *testing.T) {
	got := Conversation([]types.Message{
		{Role: types.RoleUser, Type: types.MessageImage},
		{Role: types.RoleAI, Content: types.StringPtr("Nice photo")},
	})
	if got != "User: [media message]\nAssistant: Nice photo" {
		t.Fatalf("unexpected conversation: %q", got)
	}
}

func TestAggregateMeanAndMode(t *testing.T) {
	agg, ok := AggregateInsights([]types.Insight{
		{MoodScore: 0.9, DominantEmotion: types.EmotionCalm, Keywords: []string{"work"}, Themes: []string{"Rest"}, MessageCount: 4},
		{MoodScore: 0.8, DominantEmotion: types.EmotionJoy, Keywords: []string{"work", "family"}, Themes: []string{"Growth"}, MessageCount: 2},
		{MoodScore: 0.7, DominantEmotion: types.EmotionJoy, Themes: []string{"Rest"}, MessageCount: 1},
		{MoodScore: 0.6, DominantEmotion: types.EmotionCalm, MessageCount: 3},
	})
	if !ok {
		t.Fatalf("expected aggregate")
	}
	if agg.MoodScore < 0.7499 || agg.MoodScore > 0.7501 {
		t.Fatalf("expected mean 0.75, got %f", agg.MoodScore)
	}
	if agg.DominantEmotion != types.EmotionCalm {
		t.Fatalf("expected first-seen tie winner calm, got %v", agg.DominantEmotion)
	}
	if len(agg.Keywords) != 2 || len(agg.Themes) != 2 || agg.MessageCount != 10 {
		t.Fatalf("unexpected unions: %+v", agg)
	}
	want := "Across 4 conversations, your overall mood has been positive. Key themes include: Rest, Growth."
	if agg.Summary != want {
		t.Fatalf("expected %q, got %q", want, agg.Summary)
	}
	if _, ok := AggregateInsights(nil); ok {
		t.Fatalf("expected no aggregate for empty input")
	}
	if s := aggregateSummary(1, 0.2, nil); !strings.HasPrefix(s, "Across 1 conversation, your overall mood has been challenging") {
		t.Fatalf("unexpected singular summary: %q", s)
	}
}

func TestRefreshThreadDebounceAndUpdate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	thread := seedConversation(t, store, "u1", now.Add(-2*time.Hour))
	gen := &fakeGenerator{text: analysisJSON}
	engine := NewEngine(store.Messages, store.Insights, store.Threads, NewAnalyzer(gen))

	first, err := engine.RefreshThread(ctx, "u1", thread.ID, now)
	if err != nil || first == nil {
		t.Fatalf("expected insight, got %v %v", first, err)
	}
	if first.ID != ThreadInsightID("u1", thread.ID, now.Add(-2*time.Hour)) {
		t.Fatalf("unexpected deterministic id %q", first.ID)
	}
	if first.MessageCount != 2 || first.Keywords[0] != "deadlines" {
		t.Fatalf("unexpected insight: %+v", first)
	}

	skipped, err := engine.RefreshThread(ctx, "u1", thread.ID, now.Add(30*time.Minute))
	if err != nil || skipped != nil {
		t.Fatalf("expected debounce skip, got %v %v", skipped, err)
	}
	if gen.calls != 1 {
		t.Fatalf("expected one analysis call, got %d", gen.calls)
	}

	later := now.Add(2 * time.Hour)
	second, err := engine.RefreshThread(ctx, "u1", thread.ID, later)
	if err != nil || second == nil {
		t.Fatalf("expected update, got %v %v", second, err)
	}
	if second.ID != first.ID || !second.PeriodStart.Equal(first.PeriodStart) {
		t.Fatalf("expected in-place update of %s, got %s", first.ID, second.ID)
	}

	cached, err := store.Threads.Get(ctx, thread.ID)
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if cached.LatestInsightSummary != "You are carrying a lot." {
		t.Fatalf("expected cached summary, got %+v", cached.LatestInsightSummary)
	}
}

func TestRefreshThreadGenerationError(t *testing.T) {
	store := newStore(t)
	now := time.Now().UTC()
	thread := seedConversation(t, store, "u1", now.Add(-time.Hour))
	engine := NewEngine(store.Messages, store.Insights, store.Threads, NewAnalyzer(&fakeGenerator{err: errors.New("quota")}))

	if _, err := engine.RefreshThread(context.Background(), "u1", thread.ID, now); err == nil {
		t.Fatalf("expected error")
	}
	got, _ := store.Insights.LatestForThread(context.Background(), "u1", thread.ID)
	if got != nil {
		t.Fatalf("expected no insight written, got %+v", got)
	}
}

type countingPromoter struct {
	promoted []string
}

func (p *countingPromoter) PromoteInsight(_ context.Context, in types.Insight) (bool, error) {
	p.promoted = append(p.promoted, in.ID)
	return true, nil
}

func TestGlobalAndDailySnapshot(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	gen := &fakeGenerator{text: analysisJSON}
	promoter := &countingPromoter{}
	var observed []types.InsightType
	engine := NewEngine(store.Messages, store.Insights, store.Threads, NewAnalyzer(gen),
		WithPromoter(promoter),
		WithObserver(func(_ context.Context, in types.Insight) { observed = append(observed, in.Type) }),
	)

	for i := 0; i < 2; i++ {
		thread := seedConversation(t, store, "u1", now.Add(-time.Duration(3+i)*time.Hour))
		if _, err := engine.RefreshThread(ctx, "u1", thread.ID, now); err != nil {
			t.Fatalf("refresh thread: %v", err)
		}
	}

	global, err := engine.RefreshGlobal(ctx, "u1", now)
	if err != nil || global == nil {
		t.Fatalf("expected global insight, got %v %v", global, err)
	}
	if global.MessageCount != 4 || global.ID != GlobalInsightID("u1", now.Add(-4*time.Hour)) {
		t.Fatalf("unexpected global insight: %+v", global)
	}

	daily, created, err := engine.DailySnapshot(ctx, "u1", now)
	if err != nil || !created {
		t.Fatalf("expected daily snapshot, got %v %v", created, err)
	}
	if daily.ID != DailyInsightID("u1", now) || daily.Period != types.PeriodDaily {
		t.Fatalf("unexpected daily insight: %+v", daily)
	}
	_, created, err = engine.DailySnapshot(ctx, "u1", now.Add(time.Minute))
	if err != nil || created {
		t.Fatalf("expected idempotent snapshot, got %v %v", created, err)
	}
	if len(promoter.promoted) != 1 {
		t.Fatalf("expected one promotion, got %v", promoter.promoted)
	}
	if len(observed) != 4 {
		t.Fatalf("expected 4 notifications, got %v", observed)
	}

	if _, created, _ := engine.DailySnapshot(ctx, "nobody", now); created {
		t.Fatalf("expected no snapshot without thread insights")
	}
}

type memStore struct {
	mu   sync.Mutex
	rows map[types.Category]types.CategoryInsight
}

func (m *memStore) Get(_ context.Context, _ string, c types.Category) (*types.CategoryInsight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.rows[c]; ok {
		return &in, nil
	}
	return nil, nil
}

func (m *memStore) Save(_ context.Context, in *types.CategoryInsight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[in.Category] = *in
	return nil
}

type memMemories struct {
	byCategory map[types.Category][]types.Memory
	err        error
}

func (m *memMemories) ListByCategory(_ context.Context, _ string, c types.Category, limit int) ([]types.Memory, error) {
	if m.err != nil {
		return nil, m.err
	}
	mems := m.byCategory[c]
	if len(mems) > limit {
		mems = mems[:limit]
	}
	return mems, nil
}

const categoryJSON = `{"summary": "You keep showing up for your work.", "keyPatterns": ["a","b","c","d","e","f"], "strengths": ["x","y"], "opportunities": ["p","q","r","s"]}`

func TestCategoryRefreshRateLimit(t *testing.T) {
	store := &memStore{rows: map[types.Category]types.CategoryInsight{}}
	mems := &memMemories{byCategory: map[types.Category][]types.Memory{
		types.CategoryCareer: {{ID: "m1", Content: "User is preparing for a promotion"}},
	}}
	gen := &fakeGenerator{text: categoryJSON}
	svc := NewCategoryService(store, mems, gen)
	clock := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	ctx := context.Background()

	first, err := svc.Refresh(ctx, "u1", types.CategoryCareer, false)
	if err != nil || !first.Refreshed {
		t.Fatalf("expected refresh, got %+v %v", first, err)
	}
	if len(first.Insight.KeyPatterns) != 5 || len(first.Insight.Opportunities) != 3 || first.Insight.MemoryCount != 1 {
		t.Fatalf("expected capped lists, got %+v", first.Insight)
	}

	clock = clock.Add(20 * time.Minute)
	gen.text = `{"summary": "different"}`
	second, err := svc.Refresh(ctx, "u1", types.CategoryCareer, false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if second.Refreshed || second.Insight.Summary != first.Insight.Summary || second.RetryAfter != 40*time.Minute {
		t.Fatalf("expected rate-limited first result, got %+v", second)
	}

	forced, err := svc.Refresh(ctx, "u1", types.CategoryCareer, true)
	if err != nil || !forced.Refreshed || forced.Insight.Summary != "different" {
		t.Fatalf("expected forced refresh, got %+v %v", forced, err)
	}
	if gen.calls != 2 {
		t.Fatalf("expected 2 generations, got %d", gen.calls)
	}
}

func TestCategoryRefreshEmptyAndInvalid(t *testing.T) {
	store := &memStore{rows: map[types.Category]types.CategoryInsight{}}
	gen := &fakeGenerator{text: categoryJSON}
	svc := NewCategoryService(store, &memMemories{}, gen)

	res, err := svc.Refresh(context.Background(), "u1", types.CategoryHealth, false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Insight.MemoryCount != 0 || !res.Insight.LastRefreshedAt.IsZero() || gen.calls != 0 {
		t.Fatalf("expected placeholder without generation, got %+v", res.Insight)
	}
	if _, err := svc.Refresh(context.Background(), "u1", types.Category("sports"), false); err == nil {
		t.Fatalf("expected invalid category error")
	}
}

func TestCategoryRefreshAllContinuesPastFailures(t *testing.T) {
	store := &memStore{rows: map[types.Category]types.CategoryInsight{}}
	mems := &memMemories{byCategory: map[types.Category][]types.Memory{
		types.CategoryMindset: {{ID: "m1", Content: "User meditates daily"}},
	}}
	svc := NewCategoryService(store, mems, &fakeGenerator{text: "garbage"})

	results, err := svc.RefreshAll(context.Background(), "u1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != len(types.Categories) {
		t.Fatalf("expected %d results, got %d", len(types.Categories), len(results))
	}
	if store.rows[types.CategoryMindset].Summary != "Failed to generate insight." {
		t.Fatalf("expected parse fallback summary, got %q", store.rows[types.CategoryMindset].Summary)
	}

	fresh := &memStore{rows: map[types.Category]types.CategoryInsight{}}
	failing := NewCategoryService(fresh, &memMemories{err: errors.New("db down")}, &fakeGenerator{})
	results, err = failing.RefreshAll(context.Background(), "u1")
	if err != nil || len(results) != 0 {
		t.Fatalf("expected empty results without error, got %d %v", len(results), err)
	}
}
