package insight

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/easeaico/project-kairos/internal/apperr"
	"github.com/easeaico/project-kairos/internal/llm"
	"github.com/easeaico/project-kairos/internal/prompt"
	"github.com/easeaico/project-kairos/internal/types"
	"github.com/easeaico/project-kairos/internal/utils"
)

const (
	CategoryRateLimit   = time.Hour
	CategoryMaxMemories = 50

	categoryTemperature = 0.5
	categoryMaxTokens   = 800

	maxKeyPatterns   = 5
	maxStrengths     = 3
	maxOpportunities = 3
)

type CategoryStore interface {
	Get(ctx context.Context, ownerID string, category types.Category) (*types.CategoryInsight, error)
	Save(ctx context.Context, insight *types.CategoryInsight) error
}

type CategoryMemories interface {
	ListByCategory(ctx context.Context, ownerID string, category types.Category, limit int) ([]types.Memory, error)
}

// RefreshResult carries the stored insight and whether it was regenerated.
// RetryAfter is set when the rate limit returned the previous insight.
type RefreshResult struct {
	Insight    types.CategoryInsight
	Refreshed  bool
	RetryAfter time.Duration
}

// CategoryService synthesizes per-category insights on demand.
type CategoryService struct {
	store    CategoryStore
	memories CategoryMemories
	gen      TextGenerator
	now      func() time.Time
}

func NewCategoryService(store CategoryStore, memories CategoryMemories, gen TextGenerator) *CategoryService {
	return &CategoryService{
		store:    store,
		memories: memories,
		gen:      gen,
		now:      time.Now,
	}
}

// Refresh regenerates the category insight unless it was refreshed within
// the last hour and force is false.
func (s *CategoryService) Refresh(ctx context.Context, ownerID string, category types.Category, force bool) (RefreshResult, error) {
	const op = "insight.RefreshCategory"
	if ownerID == "" {
		return RefreshResult{}, apperr.New(apperr.Unauthenticated, op, "owner is required")
	}
	if !category.Valid() {
		return RefreshResult{}, apperr.New(apperr.InvalidArgument, op, "unknown category "+string(category))
	}
	now := s.now().UTC()

	if !force {
		existing, err := s.store.Get(ctx, ownerID, category)
		if err != nil {
			return RefreshResult{}, apperr.Wrap(apperr.Internal, op, err)
		}
		if existing != nil && !existing.LastRefreshedAt.IsZero() {
			if elapsed := now.Sub(existing.LastRefreshedAt); elapsed < CategoryRateLimit {
				return RefreshResult{Insight: *existing, RetryAfter: CategoryRateLimit - elapsed}, nil
			}
		}
	}

	memories, err := s.memories.ListByCategory(ctx, ownerID, category, CategoryMaxMemories)
	if err != nil {
		return RefreshResult{}, apperr.Wrap(apperr.Internal, op, err)
	}
	if len(memories) == 0 {
		empty := types.EmptyCategoryInsight(ownerID, category, now)
		if err := s.store.Save(ctx, &empty); err != nil {
			return RefreshResult{}, apperr.Wrap(apperr.Internal, op, err)
		}
		return RefreshResult{Insight: empty, Refreshed: true}, nil
	}

	contents := make([]string, 0, len(memories))
	ids := make([]string, 0, len(memories))
	for _, m := range memories {
		contents = append(contents, m.Content)
		ids = append(ids, m.ID)
	}
	p, err := prompt.CategoryInsight(category, contents)
	if err != nil {
		return RefreshResult{}, apperr.Wrap(apperr.Internal, op, err)
	}
	res, err := s.gen.Generate(ctx, llm.Request{
		User:        p,
		Temperature: categoryTemperature,
		MaxTokens:   categoryMaxTokens,
		JSON:        true,
	})
	if err != nil {
		return RefreshResult{}, apperr.Wrap(apperr.Internal, op, err)
	}
	parsed := parseCategoryOutput(res.Text)

	insight := types.CategoryInsight{
		OwnerID:         ownerID,
		Category:        category,
		Summary:         parsed.Summary,
		KeyPatterns:     parsed.KeyPatterns,
		Strengths:       parsed.Strengths,
		Opportunities:   parsed.Opportunities,
		LastRefreshedAt: now,
		MemoryCount:     len(memories),
		MemoryIDs:       ids,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Save(ctx, &insight); err != nil {
		return RefreshResult{}, apperr.Wrap(apperr.Internal, op, err)
	}
	return RefreshResult{Insight: insight, Refreshed: true}, nil
}

// RefreshAll refreshes every category, honoring the rate limit. Failed
// categories are logged and left out.
func (s *CategoryService) RefreshAll(ctx context.Context, ownerID string) ([]RefreshResult, error) {
	if ownerID == "" {
		return nil, apperr.New(apperr.Unauthenticated, "insight.RefreshAllCategories", "owner is required")
	}
	results := make([]*RefreshResult, len(types.Categories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for i, category := range types.Categories {
		g.Go(func() error {
			res, err := s.Refresh(gctx, ownerID, category, false)
			if err != nil {
				slog.Error("failed to refresh category insight", "category", string(category), "error", err.Error())
				return nil
			}
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	out := make([]RefreshResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

type categoryOutput struct {
	Summary       string   `json:"summary"`
	KeyPatterns   []string `json:"keyPatterns"`
	Strengths     []string `json:"strengths"`
	Opportunities []string `json:"opportunities"`
}

func parseCategoryOutput(text string) categoryOutput {
	out, err := utils.ParseJSONObject[categoryOutput](text)
	if err != nil {
		slog.Warn("failed to parse category insight", "error", err.Error())
		return categoryOutput{
			Summary:       "Failed to generate insight.",
			KeyPatterns:   []string{},
			Strengths:     []string{},
			Opportunities: []string{},
		}
	}
	if strings.TrimSpace(out.Summary) == "" {
		out.Summary = "No summary available."
	}
	out.KeyPatterns = capList(out.KeyPatterns, maxKeyPatterns)
	out.Strengths = capList(out.Strengths, maxStrengths)
	out.Opportunities = capList(out.Opportunities, maxOpportunities)
	return out
}

func capList(items []string, n int) []string {
	if items == nil {
		return []string{}
	}
	if len(items) > n {
		return items[:n]
	}
	return items
}
