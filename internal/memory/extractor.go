package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/easeaico/project-kairos/internal/llm"
	"github.com/easeaico/project-kairos/internal/prompt"
)

const (
	MaxFacts      = 5
	minFactLength = 10

	extractionTemperature = 0.3
	extractionMaxTokens   = 300
)

// TextGenerator is a single-shot generation capability.
type TextGenerator interface {
	Generate(ctx context.Context, req llm.Request) (llm.Result, error)
}

var (
	numberingPrefix = regexp.MustCompile(`^\d+[.)]\s*`)
	bulletPrefix    = regexp.MustCompile(`^[-*•]\s*`)
)

// Extractor pulls durable facts out of one exchange.
type Extractor struct {
	gen TextGenerator
}

func NewExtractor(gen TextGenerator) *Extractor {
	return &Extractor{gen: gen}
}

// Extract returns 0-5 facts.
func (e *Extractor) Extract(ctx context.Context, userText, aiText string) ([]string, error) {
	p, err := prompt.Extraction(userText, aiText)
	if err != nil {
		return nil, err
	}
	res, err := e.gen.Generate(ctx, llm.Request{
		User:        p,
		Temperature: extractionTemperature,
		MaxTokens:   extractionMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract facts: %w", err)
	}
	return ParseFacts(res.Text), nil
}

// ParseFacts splits model output into cleaned fact lines. Lines shorter than
// 10 characters are noise.
func ParseFacts(text string) []string {
	var facts []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = numberingPrefix.ReplaceAllString(line, "")
		line = bulletPrefix.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if len([]rune(line)) < minFactLength {
			continue
		}
		facts = append(facts, line)
		if len(facts) == MaxFacts {
			break
		}
	}
	return facts
}
