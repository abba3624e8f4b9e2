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

// insightModel maps to the insights table.
type insightModel struct {
	ID              string  `gorm:"primaryKey;size:192"`
	OwnerID         string  `gorm:"size:128;index:idx_insights_owner_type,priority:1"`
	Type            int     `gorm:"index:idx_insights_owner_type,priority:2"`
	ThreadID        *string `gorm:"size:64;index"`
	Period          string  `gorm:"size:16"`
	PeriodStart     time.Time
	PeriodEnd       time.Time `gorm:"index"`
	MoodScore       float64
	DominantEmotion int
	Keywords        datatypes.JSON
	Themes          datatypes.JSON
	Summary         string `gorm:"type:text"`
	MessageCount    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int
}

func (insightModel) TableName() string {
	return "insights"
}

// InsightRepo accesses insight data.
type InsightRepo struct {
	db *gorm.DB
}

// Get returns the insight or nil when absent.
func (r *InsightRepo) Get(ctx context.Context, id string) (*types.Insight, error) {
	var record insightModel
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query insight: %w", err)
	}
	insight := insightFromModel(record)
	return &insight, nil
}

// Upsert writes the insight keyed by id, replacing derived fields on conflict.
func (r *InsightRepo) Upsert(ctx context.Context, insight *types.Insight) error {
	record := insightToModel(*insight)
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"period_end":       record.PeriodEnd,
			"mood_score":       record.MoodScore,
			"dominant_emotion": record.DominantEmotion,
			"keywords":         record.Keywords,
			"themes":           record.Themes,
			"summary":          record.Summary,
			"message_count":    record.MessageCount,
			"updated_at":       record.UpdatedAt,
			"version":          gorm.Expr("insights.version + 1"),
		}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to upsert insight: %w", err)
	}
	return nil
}

// CreateIfAbsent inserts the insight unless its id exists. It reports
// whether a row was written.
func (r *InsightRepo) CreateIfAbsent(ctx context.Context, insight *types.Insight) (bool, error) {
	record := insightToModel(*insight)
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert insight: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// LatestForThread returns the thread insight with the newest period end.
func (r *InsightRepo) LatestForThread(ctx context.Context, ownerID, threadID string) (*types.Insight, error) {
	return r.latest(ctx, r.db.WithContext(ctx).
		Where("owner_id = ? AND type = ? AND thread_id = ?", ownerID, int(types.InsightThread), threadID))
}

// LatestGlobal returns the rolling global insight with the newest period end.
func (r *InsightRepo) LatestGlobal(ctx context.Context, ownerID string) (*types.Insight, error) {
	return r.latest(ctx, r.db.WithContext(ctx).
		Where("owner_id = ? AND type = ?", ownerID, int(types.InsightGlobal)))
}

func (r *InsightRepo) latest(ctx context.Context, query *gorm.DB) (*types.Insight, error) {
	var records []insightModel
	if err := query.Order("period_end DESC").Limit(1).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query latest insight: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	insight := insightFromModel(records[0])
	return &insight, nil
}

// ListThreadInsightsSince returns the owner's thread insights whose period
// ended at or after since, oldest first.
func (r *InsightRepo) ListThreadInsightsSince(ctx context.Context, ownerID string, since time.Time) ([]types.Insight, error) {
	var records []insightModel
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND type = ? AND period_end >= ?", ownerID, int(types.InsightThread), since.UTC()).
		Order("period_end ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query thread insights: %w", err)
	}
	return insightsFromModels(records), nil
}

// ListRecent returns up to limit insights of the given type, newest period end first.
func (r *InsightRepo) ListRecent(ctx context.Context, ownerID string, insightType types.InsightType, limit int) ([]types.Insight, error) {
	var records []insightModel
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND type = ?", ownerID, int(insightType)).
		Order("period_end DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query recent insights: %w", err)
	}
	return insightsFromModels(records), nil
}

// ListForThread returns up to limit insights of the thread, newest period end first.
func (r *InsightRepo) ListForThread(ctx context.Context, ownerID, threadID string, limit int) ([]types.Insight, error) {
	var records []insightModel
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND thread_id = ?", ownerID, threadID).
		Order("period_end DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query thread insights: %w", err)
	}
	return insightsFromModels(records), nil
}

// ListOwnerLevel returns up to limit global and daily insights, newest period end first.
func (r *InsightRepo) ListOwnerLevel(ctx context.Context, ownerID string, limit int) ([]types.Insight, error) {
	var records []insightModel
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND thread_id IS NULL", ownerID).
		Order("period_end DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query global insights: %w", err)
	}
	return insightsFromModels(records), nil
}

// ListByOwner returns every insight of the owner, oldest first.
func (r *InsightRepo) ListByOwner(ctx context.Context, ownerID string) ([]types.Insight, error) {
	var records []insightModel
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("period_start ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query owner insights: %w", err)
	}
	return insightsFromModels(records), nil
}

func insightsFromModels(records []insightModel) []types.Insight {
	results := make([]types.Insight, 0, len(records))
	for _, record := range records {
		results = append(results, insightFromModel(record))
	}
	return results
}

func insightToModel(i types.Insight) insightModel {
	return insightModel{
		ID:              i.ID,
		OwnerID:         i.OwnerID,
		Type:            int(i.Type),
		ThreadID:        i.ThreadID,
		Period:          i.Period,
		PeriodStart:     i.PeriodStart.UTC(),
		PeriodEnd:       i.PeriodEnd.UTC(),
		MoodScore:       i.MoodScore,
		DominantEmotion: int(i.DominantEmotion),
		Keywords:        marshalJSON(i.Keywords),
		Themes:          marshalJSON(i.Themes),
		Summary:         i.Summary,
		MessageCount:    i.MessageCount,
		CreatedAt:       i.CreatedAt.UTC(),
		UpdatedAt:       i.UpdatedAt.UTC(),
		Version:         i.Version,
	}
}

func insightFromModel(m insightModel) types.Insight {
	return types.Insight{
		ID:              m.ID,
		OwnerID:         m.OwnerID,
		Type:            types.InsightType(m.Type),
		ThreadID:        m.ThreadID,
		Period:          m.Period,
		PeriodStart:     m.PeriodStart.UTC(),
		PeriodEnd:       m.PeriodEnd.UTC(),
		MoodScore:       m.MoodScore,
		DominantEmotion: types.Emotion(m.DominantEmotion),
		Keywords:        unmarshalJSON[string](m.Keywords),
		Themes:          unmarshalJSON[string](m.Themes),
		Summary:         m.Summary,
		MessageCount:    m.MessageCount,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
		Version:         m.Version,
	}
}
