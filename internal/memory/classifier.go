package memory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/easeaico/project-kairos/internal/llm"
	"github.com/easeaico/project-kairos/internal/prompt"
	"github.com/easeaico/project-kairos/internal/types"
)

const (
	classificationTemperature = 0.1
	classificationMaxTokens   = 50
)

// Classifier assigns up to two categories to a fact.
type Classifier struct {
	gen TextGenerator
}

func NewClassifier(gen TextGenerator) *Classifier {
	return &Classifier{gen: gen}
}

// Classify never fails: generation errors yield no categories.
func (c *Classifier) Classify(ctx context.Context, fact string) []types.Category {
	p, err := prompt.Classification(fact)
	if err != nil {
		slog.Error("failed to render classification prompt", "error", err.Error())
		return nil
	}
	res, err := c.gen.Generate(ctx, llm.Request{
		User:        p,
		Temperature: classificationTemperature,
		MaxTokens:   classificationMaxTokens,
	})
	if err != nil {
		slog.Warn("failed to classify memory", "error", err.Error())
		return nil
	}
	return ParseCategories(res.Text)
}

// ParseCategories keeps valid, distinct categories in answer order, at most two.
func ParseCategories(text string) []types.Category {
	var out []types.Category
	seen := make(map[types.Category]bool)
	for _, item := range strings.Split(text, ",") {
		c := types.Category(strings.ToLower(strings.TrimSpace(item)))
		if !c.Valid() || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
		if len(out) == types.MaxCategoriesPerMemory {
			break
		}
	}
	return out
}
