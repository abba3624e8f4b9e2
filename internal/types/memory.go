package types

import "time"

// EmbeddingDimensions is the fixed vector width of every stored memory.
const EmbeddingDimensions = 768

// MemorySource records how a memory was produced.
type MemorySource string

const (
	SourceAutoExtracted MemorySource = "auto_extracted"
	SourceUserConfirmed MemorySource = "user_confirmed"
	SourceInsight       MemorySource = "insight"
)

// Category is one of the six fixed life domains.
type Category string

const (
	CategoryMindset       Category = "mindset_wellbeing"
	CategoryProductivity  Category = "productivity_focus"
	CategoryRelationships Category = "relationships_connection"
	CategoryCareer        Category = "career_growth"
	CategoryHealth        Category = "health_lifestyle"
	CategoryPurpose       Category = "purpose_values"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryMindset,
	CategoryProductivity,
	CategoryRelationships,
	CategoryCareer,
	CategoryHealth,
	CategoryPurpose,
}

var categoryDescriptions = map[Category]string{
	CategoryMindset:       "Thought patterns, emotional regulation, stress, resilience, happiness",
	CategoryProductivity:  "Time management, procrastination, concentration, task completion",
	CategoryRelationships: "Interpersonal dynamics, communication, empathy, social connections",
	CategoryCareer:        "Professional development, learning skills, ambition, work challenges",
	CategoryHealth:        "Physical well-being, habits (sleep, exercise, nutrition), self-care",
	CategoryPurpose:       "Life meaning, personal values, long-term vision, existential reflections",
}

// Description returns the one-line description used in prompts.
func (c Category) Description() string {
	return categoryDescriptions[c]
}

// Valid reports whether c is one of the six categories.
func (c Category) Valid() bool {
	_, ok := categoryDescriptions[c]
	return ok
}

// MaxCategoriesPerMemory caps classification output.
const MaxCategoriesPerMemory = 2

// Memory is an immutable fact about a user used for retrieval.
type Memory struct {
	ID         string       `json:"id"`
	OwnerID    string       `json:"ownerId"`
	Content    string       `json:"content"`
	Embedding  []float32    `json:"-"`
	Source     MemorySource `json:"source"`
	ThreadID   *string      `json:"threadId,omitempty"`
	MessageID  *string      `json:"messageId,omitempty"`
	InsightID  *string      `json:"insightId,omitempty"`
	Categories []Category   `json:"categories"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// RetrievedMemory is a memory returned from similarity search.
type RetrievedMemory struct {
	Memory
	Similarity float64 `json:"similarity"`
}

// MemoryStats summarizes an owner's memories by source.
type MemoryStats struct {
	Total         int64 `json:"total"`
	AutoExtracted int64 `json:"autoExtracted"`
	UserConfirmed int64 `json:"userConfirmed"`
	Insight       int64 `json:"insight"`
}
