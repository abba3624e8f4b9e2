package insight

import (
	"fmt"
	"strings"

	"github.com/easeaico/project-kairos/internal/types"
)

// Aggregate is the combination of several thread insights.
type Aggregate struct {
	MoodScore       float64
	DominantEmotion types.Emotion
	Keywords        []string
	Themes          []string
	Summary         string
	MessageCount    int
}

// AggregateInsights combines thread insights. It returns false for an empty input.
func AggregateInsights(insights []types.Insight) (Aggregate, bool) {
	if len(insights) == 0 {
		return Aggregate{}, false
	}

	var moodSum float64
	counts := make(map[types.Emotion]int)
	var seen []types.Emotion
	var keywords, themes []string
	kwSet := make(map[string]bool)
	themeSet := make(map[string]bool)
	messages := 0

	for _, in := range insights {
		moodSum += in.MoodScore
		if counts[in.DominantEmotion] == 0 {
			seen = append(seen, in.DominantEmotion)
		}
		counts[in.DominantEmotion]++
		for _, kw := range in.Keywords {
			if !kwSet[kw] {
				kwSet[kw] = true
				keywords = append(keywords, kw)
			}
		}
		for _, th := range in.Themes {
			if !themeSet[th] {
				themeSet[th] = true
				themes = append(themes, th)
			}
		}
		messages += in.MessageCount
	}

	dominant := seen[0]
	for _, e := range seen[1:] {
		if counts[e] > counts[dominant] {
			dominant = e
		}
	}
	if len(keywords) > types.MaxInsightKeywords {
		keywords = keywords[:types.MaxInsightKeywords]
	}
	if len(themes) > types.MaxInsightThemes {
		themes = themes[:types.MaxInsightThemes]
	}
	if keywords == nil {
		keywords = []string{}
	}
	if themes == nil {
		themes = []string{}
	}

	mood := moodSum / float64(len(insights))
	return Aggregate{
		MoodScore:       mood,
		DominantEmotion: dominant,
		Keywords:        keywords,
		Themes:          themes,
		Summary:         aggregateSummary(len(insights), mood, themes),
		MessageCount:    messages,
	}, true
}

// MoodBand names the mood range used in aggregate summaries.
func MoodBand(score float64) string {
	switch {
	case score > 0.6:
		return "positive"
	case score < 0.4:
		return "challenging"
	default:
		return "neutral"
	}
}

func aggregateSummary(n int, mood float64, themes []string) string {
	noun := "conversation"
	if n > 1 {
		noun = "conversations"
	}
	return fmt.Sprintf("Across %d %s, your overall mood has been %s. Key themes include: %s.",
		n, noun, MoodBand(mood), strings.Join(themes, ", "))
}
