package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/easeaico/project-kairos/internal/apperr"
	"github.com/easeaico/project-kairos/internal/types"
)

// threadModel maps to the threads table.
type threadModel struct {
	ID                   string `gorm:"primaryKey;size:64"`
	OwnerID              string `gorm:"size:128;index"`
	Title                string
	MessageCount         int
	LastMessageAt        time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
	IsDeleted            bool `gorm:"index"`
	Version              int
	LatestInsightSummary string `gorm:"type:text"`
	LatestInsightEmotion *int
}

func (threadModel) TableName() string {
	return "threads"
}

// ThreadRepo accesses thread data.
type ThreadRepo struct {
	db *gorm.DB
}

func (r *ThreadRepo) Create(ctx context.Context, thread *types.Thread) error {
	if thread == nil {
		return fmt.Errorf("thread cannot be nil")
	}
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now
	record := threadToModel(*thread)
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert thread: %w", err)
	}
	return nil
}

// Get returns the thread, including soft-deleted ones.
func (r *ThreadRepo) Get(ctx context.Context, id string) (*types.Thread, error) {
	var record threadModel
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "GetThread", "thread not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query thread: %w", err)
	}
	thread := threadFromModel(record)
	return &thread, nil
}

// MarkDeleted flips is_deleted false->true. It reports whether this call
// performed the transition.
func (r *ThreadRepo) MarkDeleted(ctx context.Context, ownerID, id string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&threadModel{}).
		Where("id = ? AND owner_id = ? AND is_deleted = ?", id, ownerID, false).
		Updates(map[string]any{
			"is_deleted": true,
			"updated_at": time.Now().UTC(),
			"version":    gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark thread deleted: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	thread, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if thread.OwnerID != ownerID {
		return false, apperr.New(apperr.PermissionDenied, "DeleteThread", "thread belongs to another user")
	}
	return false, nil
}

// ReconcileMessageCount recounts live messages for the thread.
func (r *ThreadRepo) ReconcileMessageCount(ctx context.Context, id string) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&messageModel{}).
		Where("thread_id = ? AND is_deleted = ?", id, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count thread messages: %w", err)
	}

	updates := map[string]any{
		"message_count": count,
		"updated_at":    time.Now().UTC(),
	}
	var latest []messageModel
	if err := r.db.WithContext(ctx).
		Select("created_at").
		Where("thread_id = ? AND is_deleted = ?", id, false).
		Order("created_at DESC").
		Limit(1).
		Find(&latest).Error; err != nil {
		return 0, fmt.Errorf("failed to query latest thread message: %w", err)
	}
	if len(latest) == 1 {
		updates["last_message_at"] = latest[0].CreatedAt.UTC()
	}
	if err := r.db.WithContext(ctx).
		Model(&threadModel{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return 0, fmt.Errorf("failed to update thread message count: %w", err)
	}
	return int(count), nil
}

// CacheInsight stores the latest thread insight summary on the thread.
func (r *ThreadRepo) CacheInsight(ctx context.Context, id, summary string, emotion types.Emotion) error {
	if err := r.db.WithContext(ctx).
		Model(&threadModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"latest_insight_summary": summary,
			"latest_insight_emotion": int(emotion),
		}).Error; err != nil {
		return fmt.Errorf("failed to cache thread insight: %w", err)
	}
	return nil
}

func threadToModel(t types.Thread) threadModel {
	var emotion *int
	if t.LatestInsightEmotion != nil {
		v := int(*t.LatestInsightEmotion)
		emotion = &v
	}
	return threadModel{
		ID:                   t.ID,
		OwnerID:              t.OwnerID,
		Title:                t.Title,
		MessageCount:         t.MessageCount,
		LastMessageAt:        t.LastMessageAt,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
		IsDeleted:            t.IsDeleted,
		Version:              t.Version,
		LatestInsightSummary: t.LatestInsightSummary,
		LatestInsightEmotion: emotion,
	}
}

func threadFromModel(m threadModel) types.Thread {
	var emotion *types.Emotion
	if m.LatestInsightEmotion != nil {
		v := types.Emotion(*m.LatestInsightEmotion)
		emotion = &v
	}
	return types.Thread{
		ID:                   m.ID,
		OwnerID:              m.OwnerID,
		Title:                m.Title,
		MessageCount:         m.MessageCount,
		LastMessageAt:        m.LastMessageAt.UTC(),
		CreatedAt:            m.CreatedAt.UTC(),
		UpdatedAt:            m.UpdatedAt.UTC(),
		IsDeleted:            m.IsDeleted,
		Version:              m.Version,
		LatestInsightSummary: m.LatestInsightSummary,
		LatestInsightEmotion: emotion,
	}
}
