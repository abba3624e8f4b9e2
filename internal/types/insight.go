package types

import (
	"strings"
	"time"
)

// Emotion is the dominant emotional tone of a period.
type Emotion int

const (
	EmotionJoy Emotion = iota
	EmotionCalm
	EmotionNeutral
	EmotionSadness
	EmotionStress
	EmotionAnger
	EmotionFear
	EmotionExcitement
)

var emotionNames = []string{"joy", "calm", "neutral", "sadness", "stress", "anger", "fear", "excitement"}

func (e Emotion) String() string {
	if e < 0 || int(e) >= len(emotionNames) {
		return "neutral"
	}
	return emotionNames[e]
}

// Valid reports whether e is a known emotion.
func (e Emotion) Valid() bool {
	return e >= EmotionJoy && e <= EmotionExcitement
}

// ParseEmotion resolves an emotion by name, case-insensitively.
func ParseEmotion(s string) (Emotion, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range emotionNames {
		if name == s {
			return Emotion(i), true
		}
	}
	return EmotionNeutral, false
}

// InsightType is the aggregation level of an insight.
type InsightType int

const (
	InsightThread InsightType = iota
	InsightGlobal
	InsightDailyGlobal
)

func (t InsightType) String() string {
	switch t {
	case InsightThread:
		return "thread"
	case InsightGlobal:
		return "global"
	case InsightDailyGlobal:
		return "dailyGlobal"
	default:
		return "unknown"
	}
}

const (
	PeriodRolling = "rolling"
	PeriodDaily   = "daily"
)

const (
	MaxInsightKeywords = 10
	MaxInsightThemes   = 5
)

// Insight is a mood/theme summary over a time window.
type Insight struct {
	ID              string      `json:"id"`
	OwnerID         string      `json:"ownerId"`
	Type            InsightType `json:"type"`
	ThreadID        *string     `json:"threadId"`
	Period          string      `json:"period"`
	PeriodStart     time.Time   `json:"periodStart"`
	PeriodEnd       time.Time   `json:"periodEnd"`
	MoodScore       float64     `json:"moodScore"`
	DominantEmotion Emotion     `json:"dominantEmotion"`
	Keywords        []string    `json:"keywords"`
	Themes          []string    `json:"aiThemes"`
	Summary         string      `json:"summary"`
	MessageCount    int         `json:"messageCount"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	Version         int         `json:"version"`
}

// CategoryInsight is the per-category synthesis of an owner's memories.
type CategoryInsight struct {
	OwnerID         string    `json:"ownerId"`
	Category        Category  `json:"category"`
	Summary         string    `json:"summary"`
	KeyPatterns     []string  `json:"keyPatterns"`
	Strengths       []string  `json:"strengths"`
	Opportunities   []string  `json:"opportunities"`
	LastRefreshedAt time.Time `json:"lastRefreshedAt"`
	MemoryCount     int       `json:"memoryCount"`
	MemoryIDs       []string  `json:"memoryIds"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// EmptyCategoryInsight is stored when a category has no memories yet.
func EmptyCategoryInsight(ownerID string, category Category, now time.Time) CategoryInsight {
	return CategoryInsight{
		OwnerID:       ownerID,
		Category:      category,
		KeyPatterns:   []string{},
		Strengths:     []string{},
		Opportunities: []string{},
		MemoryIDs:     []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
