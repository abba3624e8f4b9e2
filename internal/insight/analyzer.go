package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/easeaico/project-kairos/internal/llm"
	"github.com/easeaico/project-kairos/internal/prompt"
	"github.com/easeaico/project-kairos/internal/types"
	"github.com/easeaico/project-kairos/internal/utils"
)

const (
	analysisTemperature = 0.3
	analysisMaxTokens   = 500
)

// TextGenerator is a single-shot generation capability.
type TextGenerator interface {
	Generate(ctx context.Context, req llm.Request) (llm.Result, error)
}

// Analysis is the model's reading of a conversation window.
type Analysis struct {
	MoodScore       float64
	DominantEmotion types.Emotion
	Themes          []string
	Summary         string
}

// FallbackAnalysis is used whenever the model output cannot be parsed.
func FallbackAnalysis() Analysis {
	return Analysis{
		MoodScore:       0.5,
		DominantEmotion: types.EmotionNeutral,
		Themes:          []string{"Unable to analyze conversation"},
		Summary:         "Analysis unavailable at this time.",
	}
}

// Analyzer scores mood and themes of a conversation.
type Analyzer struct {
	gen TextGenerator
}

// NewAnalyzer returns an Analyzer.
func NewAnalyzer(gen TextGenerator) *Analyzer {
	return &Analyzer{gen: gen}
}

// Analyze never fails on bad model output; it falls back to neutral values.
// Only generation errors are returned.
func (a *Analyzer) Analyze(ctx context.Context, messages []types.Message) (Analysis, error) {
	if a == nil || a.gen == nil {
		return FallbackAnalysis(), fmt.Errorf("insight analyzer not configured")
	}

	p, err := prompt.Analysis(Conversation(messages))
	if err != nil {
		return FallbackAnalysis(), err
	}
	res, err := a.gen.Generate(ctx, llm.Request{
		User:        p,
		Temperature: analysisTemperature,
		MaxTokens:   analysisMaxTokens,
		JSON:        true,
	})
	if err != nil {
		return FallbackAnalysis(), fmt.Errorf("failed to analyze conversation: %w", err)
	}
	analysis, err := ParseAnalysis(res.Text)
	if err != nil {
		slog.Warn("failed to parse insight analysis", "error", err.Error(), "raw", utils.Truncate(res.Text, 200))
		return FallbackAnalysis(), nil
	}
	return analysis, nil
}

// Conversation renders messages as "User:"/"Assistant:" lines.
func Conversation(messages []types.Message) string {
	lines := make([]string, 0, len(messages))
	for i := range messages {
		role := "Assistant"
		if messages[i].Role == types.RoleUser {
			role = "User"
		}
		text := strings.TrimSpace(messages[i].Text())
		if text == "" {
			text = "[media message]"
		}
		lines = append(lines, role+": "+text)
	}
	return strings.Join(lines, "\n")
}

type rawAnalysis struct {
	MoodScore       *float64        `json:"moodScore"`
	DominantEmotion json.RawMessage `json:"dominantEmotion"`
	Themes          []string        `json:"aiThemes"`
	Summary         string          `json:"summary"`
}

// ParseAnalysis decodes the model JSON. The emotion may be an index or a name.
func ParseAnalysis(text string) (Analysis, error) {
	raw, err := utils.ParseJSONObject[rawAnalysis](text)
	if err != nil {
		return Analysis{}, err
	}
	if raw.MoodScore == nil {
		return Analysis{}, fmt.Errorf("analysis missing moodScore")
	}
	emotion, err := parseEmotion(raw.DominantEmotion)
	if err != nil {
		return Analysis{}, err
	}
	themes := raw.Themes
	if len(themes) > types.MaxInsightThemes {
		themes = themes[:types.MaxInsightThemes]
	}
	if themes == nil {
		themes = []string{}
	}
	return Analysis{
		MoodScore:       clampMood(*raw.MoodScore),
		DominantEmotion: emotion,
		Themes:          themes,
		Summary:         strings.TrimSpace(raw.Summary),
	}, nil
}

func parseEmotion(raw json.RawMessage) (types.Emotion, error) {
	if len(raw) == 0 {
		return types.EmotionNeutral, nil
	}
	var idx int
	if err := json.Unmarshal(raw, &idx); err == nil {
		e := types.Emotion(idx)
		if !e.Valid() {
			return types.EmotionNeutral, fmt.Errorf("emotion index out of range: %d", idx)
		}
		return e, nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return types.EmotionNeutral, fmt.Errorf("invalid dominantEmotion: %w", err)
	}
	e, ok := types.ParseEmotion(name)
	if !ok {
		return types.EmotionNeutral, fmt.Errorf("unknown emotion %q", name)
	}
	return e, nil
}

func clampMood(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
