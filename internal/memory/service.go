package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/easeaico/project-kairos/internal/apperr"
	"github.com/easeaico/project-kairos/internal/observability"
	"github.com/easeaico/project-kairos/internal/storage"
	"github.com/easeaico/project-kairos/internal/types"
)

// DefaultTopK is the number of memories retrieved per reply.
const DefaultTopK = 5

// MemoryRepo is the persistence surface the service needs.
type MemoryRepo interface {
	Create(ctx context.Context, mem *types.Memory) error
	SearchSimilar(ctx context.Context, ownerID string, embedding []float32, topK int) ([]types.RetrievedMemory, error)
	ExistsForInsight(ctx context.Context, ownerID, insightID string) (bool, error)
	Stats(ctx context.Context, ownerID string) (types.MemoryStats, error)
	DeleteThreadBatch(ctx context.Context, threadID string, limit int) ([]string, error)
}

// InsightLister lists insights for backfill.
type InsightLister interface {
	ListByOwner(ctx context.Context, ownerID string) ([]types.Insight, error)
}

// IngestRequest is one completed user/AI exchange.
type IngestRequest struct {
	OwnerID   string
	ThreadID  string
	MessageID string
	UserText  string
	AIText    string
}

type IngestResult struct {
	FactsExtracted int
	MemoryIDs      []string
}

// Service 管理记忆的写入、检索与维护。
type Service struct {
	embedder   Embedder
	memories   MemoryRepo
	insights   InsightLister
	index      VectorIndex
	extractor  *Extractor
	classifier *Classifier
	topK       int
}

type Option func(*Service)

// WithIndex mirrors memories into an external vector index and searches it first.
func WithIndex(index VectorIndex) Option {
	return func(s *Service) {
		s.index = index
	}
}

func WithInsights(insights InsightLister) Option {
	return func(s *Service) {
		s.insights = insights
	}
}

func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// NewService returns a memory service.
func NewService(embedder Embedder, memories MemoryRepo, gen TextGenerator, opts ...Option) *Service {
	s := &Service{
		embedder:   embedder,
		memories:   memories,
		extractor:  NewExtractor(gen),
		classifier: NewClassifier(gen),
		topK:       DefaultTopK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest extracts facts from one exchange and stores each as a memory. A fact
// that fails to embed or persist is skipped.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	const op = "memory.Ingest"
	if req.OwnerID == "" {
		return IngestResult{}, apperr.New(apperr.Unauthenticated, op, "owner is required")
	}
	ctx, span := observability.Tracer().Start(ctx, op, trace.WithAttributes(
		attribute.String("thread.id", req.ThreadID),
		attribute.String("message.id", req.MessageID),
	))
	defer span.End()

	facts, err := s.extractor.Extract(ctx, req.UserText, req.AIText)
	if err != nil {
		span.RecordError(err)
		return IngestResult{}, apperr.Wrap(apperr.Internal, op, err)
	}

	result := IngestResult{FactsExtracted: len(facts)}
	for _, fact := range facts {
		mem := types.Memory{
			OwnerID:    req.OwnerID,
			Content:    fact,
			Source:     types.SourceAutoExtracted,
			Categories: s.classifier.Classify(ctx, fact),
		}
		if req.ThreadID != "" {
			mem.ThreadID = types.StringPtr(req.ThreadID)
		}
		if req.MessageID != "" {
			mem.MessageID = types.StringPtr(req.MessageID)
		}
		if err := s.store(ctx, &mem); err != nil {
			slog.Error("failed to index memory", "owner_id", req.OwnerID, "error", err.Error())
			continue
		}
		result.MemoryIDs = append(result.MemoryIDs, mem.ID)
	}
	span.SetAttributes(attribute.Int("memory.facts", result.FactsExtracted), attribute.Int("memory.stored", len(result.MemoryIDs)))
	return result, nil
}

func (s *Service) store(ctx context.Context, mem *types.Memory) error {
	embedding, err := s.embedder.EmbedDocument(ctx, mem.Content)
	if err != nil {
		return err
	}
	mem.Embedding = embedding
	if err := s.memories.Create(ctx, mem); err != nil {
		return err
	}
	if s.index != nil {
		if err := s.index.Upsert(ctx, *mem); err != nil {
			slog.Warn("failed to mirror memory into vector index", "memory_id", mem.ID, "error", err.Error())
		}
	}
	return nil
}

// Retrieve returns the owner's memories nearest to query.
func (s *Service) Retrieve(ctx context.Context, ownerID, query string, k int) ([]types.RetrievedMemory, error) {
	const op = "memory.Retrieve"
	if ownerID == "" {
		return nil, apperr.New(apperr.Unauthenticated, op, "owner is required")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = s.topK
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}

	var results []types.RetrievedMemory
	if s.index != nil {
		results, err = s.index.Search(ctx, ownerID, vec, k)
		if err != nil {
			slog.Warn("vector index search failed, falling back to database", "error", err.Error())
			results = nil
		}
	}
	if results == nil {
		results, err = s.memories.SearchSimilar(ctx, ownerID, vec, k)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, op, err)
		}
	}

	// 二次按 owner 过滤
	filtered := results[:0]
	for _, r := range results {
		if r.OwnerID == ownerID {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered, nil
}

// FormatContext renders retrieved memories as the block appended to the
// system instruction.
func FormatContext(memories []types.RetrievedMemory) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant things you remember about the user:\n")
	n := 0
	for _, m := range memories {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. %s\n", n, text)
	}
	if n == 0 {
		return ""
	}
	return b.String()
}

// ConfirmMemory stores a fact the user explicitly asked to remember.
func (s *Service) ConfirmMemory(ctx context.Context, ownerID, content string, threadID *string) (*types.Memory, error) {
	const op = "memory.ConfirmMemory"
	if ownerID == "" {
		return nil, apperr.New(apperr.Unauthenticated, op, "owner is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.New(apperr.InvalidArgument, op, "content is required")
	}
	mem := &types.Memory{
		OwnerID:    ownerID,
		Content:    content,
		Source:     types.SourceUserConfirmed,
		ThreadID:   threadID,
		Categories: s.classifier.Classify(ctx, content),
	}
	if err := s.store(ctx, mem); err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	return mem, nil
}

// PromoteInsight turns an insight summary into a memory once per insight id.
func (s *Service) PromoteInsight(ctx context.Context, insight types.Insight) (bool, error) {
	const op = "memory.PromoteInsight"
	content := insightMemoryText(insight)
	if insight.OwnerID == "" || content == "" {
		return false, nil
	}
	exists, err := s.memories.ExistsForInsight(ctx, insight.OwnerID, insight.ID)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, op, err)
	}
	if exists {
		return false, nil
	}
	mem := &types.Memory{
		OwnerID:    insight.OwnerID,
		Content:    content,
		Source:     types.SourceInsight,
		ThreadID:   insight.ThreadID,
		InsightID:  types.StringPtr(insight.ID),
		Categories: s.classifier.Classify(ctx, content),
	}
	if err := s.store(ctx, mem); err != nil {
		return false, apperr.Wrap(apperr.Internal, op, err)
	}
	return true, nil
}

func insightMemoryText(insight types.Insight) string {
	summary := strings.TrimSpace(insight.Summary)
	if summary == "" {
		return ""
	}
	if len(insight.Themes) == 0 {
		return summary
	}
	return fmt.Sprintf("%s Themes: %s.", summary, strings.Join(insight.Themes, ", "))
}

// Backfill promotes every existing insight of the owner and returns how many
// memories were created.
func (s *Service) Backfill(ctx context.Context, ownerID string) (int, error) {
	const op = "memory.Backfill"
	if ownerID == "" {
		return 0, apperr.New(apperr.Unauthenticated, op, "owner is required")
	}
	if s.insights == nil {
		return 0, apperr.New(apperr.Internal, op, "insight lister not configured")
	}
	insights, err := s.insights.ListByOwner(ctx, ownerID)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, op, err)
	}
	created := 0
	for _, insight := range insights {
		ok, err := s.PromoteInsight(ctx, insight)
		if err != nil {
			slog.Error("failed to promote insight", "insight_id", insight.ID, "error", err.Error())
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (s *Service) Stats(ctx context.Context, ownerID string) (types.MemoryStats, error) {
	if ownerID == "" {
		return types.MemoryStats{}, apperr.New(apperr.Unauthenticated, "memory.Stats", "owner is required")
	}
	stats, err := s.memories.Stats(ctx, ownerID)
	if err != nil {
		return types.MemoryStats{}, apperr.Wrap(apperr.Internal, "memory.Stats", err)
	}
	return stats, nil
}

// DeleteByThread removes the thread's memories in batches from storage and
// the vector index. Returns the number deleted.
func (s *Service) DeleteByThread(ctx context.Context, threadID string) (int, error) {
	total := 0
	for {
		ids, err := s.memories.DeleteThreadBatch(ctx, threadID, storage.DeleteBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to delete thread memories: %w", err)
		}
		total += len(ids)
		if s.index != nil && len(ids) > 0 {
			if err := s.index.Delete(ctx, ids); err != nil {
				slog.Warn("failed to delete memories from vector index", "thread_id", threadID, "error", err.Error())
			}
		}
		if len(ids) < storage.DeleteBatchSize {
			return total, nil
		}
	}
}
