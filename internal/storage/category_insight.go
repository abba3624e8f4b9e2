package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/project-kairos/internal/types"
)

// categoryInsightModel maps to the category_insights table.
type categoryInsightModel struct {
	OwnerID         string `gorm:"primaryKey;size:128"`
	Category        string `gorm:"primaryKey;size:64"`
	Summary         string `gorm:"type:text"`
	KeyPatterns     datatypes.JSON
	Strengths       datatypes.JSON
	Opportunities   datatypes.JSON
	LastRefreshedAt *time.Time
	MemoryCount     int
	MemoryIDs       datatypes.JSON `gorm:"column:memory_ids"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (categoryInsightModel) TableName() string {
	return "category_insights"
}

// CategoryInsightRepo accesses per-category insights.
type CategoryInsightRepo struct {
	db *gorm.DB
}

// Get returns the stored insight or nil.
func (r *CategoryInsightRepo) Get(ctx context.Context, ownerID string, category types.Category) (*types.CategoryInsight, error) {
	var record categoryInsightModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND category = ?", ownerID, string(category)).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category insight: %w", err)
	}
	insight := categoryInsightFromModel(record)
	return &insight, nil
}

// Save overwrites the row for (owner, category) wholesale.
func (r *CategoryInsightRepo) Save(ctx context.Context, insight *types.CategoryInsight) error {
	record := categoryInsightToModel(*insight)
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "category"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"summary", "key_patterns", "strengths", "opportunities",
			"last_refreshed_at", "memory_count", "memory_ids", "updated_at",
		}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to save category insight: %w", err)
	}
	return nil
}

func categoryInsightToModel(c types.CategoryInsight) categoryInsightModel {
	var refreshed *time.Time
	if !c.LastRefreshedAt.IsZero() {
		t := c.LastRefreshedAt.UTC()
		refreshed = &t
	}
	return categoryInsightModel{
		OwnerID:         c.OwnerID,
		Category:        string(c.Category),
		Summary:         c.Summary,
		KeyPatterns:     marshalJSON(c.KeyPatterns),
		Strengths:       marshalJSON(c.Strengths),
		Opportunities:   marshalJSON(c.Opportunities),
		LastRefreshedAt: refreshed,
		MemoryCount:     c.MemoryCount,
		MemoryIDs:       marshalJSON(c.MemoryIDs),
		CreatedAt:       c.CreatedAt.UTC(),
		UpdatedAt:       c.UpdatedAt.UTC(),
	}
}

func categoryInsightFromModel(m categoryInsightModel) types.CategoryInsight {
	var refreshed time.Time
	if m.LastRefreshedAt != nil {
		refreshed = m.LastRefreshedAt.UTC()
	}
	return types.CategoryInsight{
		OwnerID:         m.OwnerID,
		Category:        types.Category(m.Category),
		Summary:         m.Summary,
		KeyPatterns:     unmarshalJSON[string](m.KeyPatterns),
		Strengths:       unmarshalJSON[string](m.Strengths),
		Opportunities:   unmarshalJSON[string](m.Opportunities),
		LastRefreshedAt: refreshed,
		MemoryCount:     m.MemoryCount,
		MemoryIDs:       unmarshalJSON[string](m.MemoryIDs),
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}
