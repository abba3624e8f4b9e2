package insight

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/easeaico/project-kairos/internal/apperr"
	"github.com/easeaico/project-kairos/internal/observability"
	"github.com/easeaico/project-kairos/internal/session"
	"github.com/easeaico/project-kairos/internal/types"
)

const (
	// Window is how far back thread and global insights look.
	Window = 72 * time.Hour
	// Debounce skips a thread refresh when its insight changed this recently.
	Debounce = time.Hour
	// UpdateWindow is how long an insight keeps being extended in place.
	UpdateWindow = 24 * time.Hour
	// DailyWindow is the lookback of the daily snapshot.
	DailyWindow = 24 * time.Hour
)

type MessageSource interface {
	ListSince(ctx context.Context, ownerID, threadID string, since time.Time) ([]types.Message, error)
}

type InsightStore interface {
	Get(ctx context.Context, id string) (*types.Insight, error)
	Upsert(ctx context.Context, insight *types.Insight) error
	CreateIfAbsent(ctx context.Context, insight *types.Insight) (bool, error)
	LatestForThread(ctx context.Context, ownerID, threadID string) (*types.Insight, error)
	LatestGlobal(ctx context.Context, ownerID string) (*types.Insight, error)
	ListThreadInsightsSince(ctx context.Context, ownerID string, since time.Time) ([]types.Insight, error)
}

// ThreadCache keeps the latest insight summary on the thread row.
type ThreadCache interface {
	CacheInsight(ctx context.Context, threadID, summary string, emotion types.Emotion) error
}

// Promoter turns a daily snapshot into a memory.
type Promoter interface {
	PromoteInsight(ctx context.Context, insight types.Insight) (bool, error)
}

// Observer is notified after an insight is written.
type Observer func(ctx context.Context, insight types.Insight)

// Engine derives thread, global and daily insights.
type Engine struct {
	messages MessageSource
	insights InsightStore
	threads  ThreadCache
	analyzer *Analyzer
	promoter Promoter
	observer Observer
	// 分析时最多使用的最近消息数
	historyLimit int
}

type EngineOption func(*Engine)

func WithPromoter(p Promoter) EngineOption {
	return func(e *Engine) { e.promoter = p }
}

func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithHistoryLimit caps how many recent messages the analyzer sees.
func WithHistoryLimit(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

func NewEngine(messages MessageSource, insights InsightStore, threads ThreadCache, analyzer *Analyzer, opts ...EngineOption) *Engine {
	e := &Engine{
		messages: messages,
		insights: insights,
		threads:  threads,
		analyzer: analyzer,

		historyLimit: session.InsightLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ThreadInsightID, GlobalInsightID and DailyInsightID build deterministic ids.
func ThreadInsightID(ownerID, threadID string, periodStart time.Time) string {
	return fmt.Sprintf("%s_%s_%d", ownerID, threadID, periodStart.UnixMilli())
}

func GlobalInsightID(ownerID string, periodStart time.Time) string {
	return fmt.Sprintf("%s_global_%d", ownerID, periodStart.UnixMilli())
}

func DailyInsightID(ownerID string, day time.Time) string {
	return fmt.Sprintf("%s_daily_%d", ownerID, StartOfDay(day).UnixMilli())
}

// StartOfDay returns UTC midnight of t.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RefreshThread updates the thread's rolling insight. It returns nil when
// debounced or when the thread has no recent messages.
func (e *Engine) RefreshThread(ctx context.Context, ownerID, threadID string, now time.Time) (*types.Insight, error) {
	const op = "insight.RefreshThread"
	if ownerID == "" {
		return nil, apperr.New(apperr.Unauthenticated, op, "owner is required")
	}
	ctx, span := observability.Tracer().Start(ctx, op, trace.WithAttributes(attribute.String("thread.id", threadID)))
	defer span.End()
	now = now.UTC()

	latest, err := e.insights.LatestForThread(ctx, ownerID, threadID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	if latest != nil && now.Sub(latest.UpdatedAt) < Debounce {
		slog.Debug("skipping thread insight, recently updated", "thread_id", threadID)
		return nil, nil
	}

	messages, err := e.messages.ListSince(ctx, ownerID, threadID, now.Add(-Window))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	if len(messages) == 0 {
		return nil, nil
	}

	texts := make([]string, 0, len(messages))
	for i := range messages {
		texts = append(texts, messages[i].Text())
	}
	window := messages
	if len(window) > e.historyLimit {
		window = window[len(window)-e.historyLimit:]
	}
	analysis, err := e.analyzer.Analyze(ctx, window)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}

	var insight types.Insight
	if latest != nil && !latest.PeriodEnd.Before(now.Add(-UpdateWindow)) {
		insight = *latest
	} else {
		start := messages[0].CreatedAt.UTC()
		insight = types.Insight{
			ID:          ThreadInsightID(ownerID, threadID, start),
			OwnerID:     ownerID,
			Type:        types.InsightThread,
			ThreadID:    types.StringPtr(threadID),
			Period:      types.PeriodRolling,
			PeriodStart: start,
			CreatedAt:   now,
		}
	}
	insight.PeriodEnd = now
	insight.MoodScore = analysis.MoodScore
	insight.DominantEmotion = analysis.DominantEmotion
	insight.Keywords = ExtractKeywords(texts)
	insight.Themes = analysis.Themes
	insight.Summary = analysis.Summary
	insight.MessageCount = len(messages)
	insight.UpdatedAt = now

	if err := e.insights.Upsert(ctx, &insight); err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	if e.threads != nil {
		if err := e.threads.CacheInsight(ctx, threadID, insight.Summary, insight.DominantEmotion); err != nil {
			slog.Warn("failed to cache thread insight", "thread_id", threadID, "error", err.Error())
		}
	}
	e.notify(ctx, insight)
	return &insight, nil
}

// RefreshGlobal aggregates the owner's recent thread insights into the
// rolling global insight. It returns nil when there is nothing to aggregate.
func (e *Engine) RefreshGlobal(ctx context.Context, ownerID string, now time.Time) (*types.Insight, error) {
	const op = "insight.RefreshGlobal"
	if ownerID == "" {
		return nil, apperr.New(apperr.Unauthenticated, op, "owner is required")
	}
	ctx, span := observability.Tracer().Start(ctx, op)
	defer span.End()
	now = now.UTC()

	threadInsights, err := e.insights.ListThreadInsightsSince(ctx, ownerID, now.Add(-Window))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	agg, ok := AggregateInsights(threadInsights)
	if !ok {
		return nil, nil
	}

	latest, err := e.insights.LatestGlobal(ctx, ownerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}

	var insight types.Insight
	if latest != nil && !latest.PeriodEnd.Before(now.Add(-UpdateWindow)) {
		insight = *latest
	} else {
		start := earliestStart(threadInsights)
		insight = types.Insight{
			ID:          GlobalInsightID(ownerID, start),
			OwnerID:     ownerID,
			Type:        types.InsightGlobal,
			Period:      types.PeriodRolling,
			PeriodStart: start,
			CreatedAt:   now,
		}
	}
	applyAggregate(&insight, agg, now)

	if err := e.insights.Upsert(ctx, &insight); err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	e.notify(ctx, insight)
	return &insight, nil
}

// DailySnapshot writes at most one daily insight per owner and UTC day. It
// reports whether a snapshot was created by this call.
func (e *Engine) DailySnapshot(ctx context.Context, ownerID string, now time.Time) (*types.Insight, bool, error) {
	const op = "insight.DailySnapshot"
	if ownerID == "" {
		return nil, false, apperr.New(apperr.Unauthenticated, op, "owner is required")
	}
	ctx, span := observability.Tracer().Start(ctx, op)
	defer span.End()
	now = now.UTC()

	id := DailyInsightID(ownerID, now)
	existing, err := e.insights.Get(ctx, id)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Internal, op, err)
	}
	if existing != nil {
		return existing, false, nil
	}

	threadInsights, err := e.insights.ListThreadInsightsSince(ctx, ownerID, now.Add(-DailyWindow))
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Internal, op, err)
	}
	agg, ok := AggregateInsights(threadInsights)
	if !ok {
		return nil, false, nil
	}

	insight := types.Insight{
		ID:          id,
		OwnerID:     ownerID,
		Type:        types.InsightDailyGlobal,
		Period:      types.PeriodDaily,
		PeriodStart: StartOfDay(now),
		CreatedAt:   now,
	}
	applyAggregate(&insight, agg, now)

	created, err := e.insights.CreateIfAbsent(ctx, &insight)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Internal, op, err)
	}
	if !created {
		return &insight, false, nil
	}
	if e.promoter != nil {
		if _, err := e.promoter.PromoteInsight(ctx, insight); err != nil {
			slog.Error("failed to promote daily insight", "insight_id", insight.ID, "error", err.Error())
		}
	}
	e.notify(ctx, insight)
	return &insight, true, nil
}

func (e *Engine) notify(ctx context.Context, insight types.Insight) {
	if e.observer != nil {
		e.observer(ctx, insight)
	}
}

func applyAggregate(insight *types.Insight, agg Aggregate, now time.Time) {
	insight.PeriodEnd = now
	insight.MoodScore = agg.MoodScore
	insight.DominantEmotion = agg.DominantEmotion
	insight.Keywords = agg.Keywords
	insight.Themes = agg.Themes
	insight.Summary = agg.Summary
	insight.MessageCount = agg.MessageCount
	insight.UpdatedAt = now
}

func earliestStart(insights []types.Insight) time.Time {
	start := insights[0].PeriodStart
	for _, in := range insights[1:] {
		if in.PeriodStart.Before(start) {
			start = in.PeriodStart
		}
	}
	return start.UTC()
}
