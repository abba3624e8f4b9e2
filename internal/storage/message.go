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

// messageModel maps to the messages table.
type messageModel struct {
	ID               string `gorm:"primaryKey;size:64"`
	ThreadID         string `gorm:"size:64;index:idx_messages_thread_created,priority:1"`
	OwnerID          string `gorm:"size:128;index"`
	Role             int
	Type             int
	Content          *string `gorm:"type:text"`
	Transcription    *string `gorm:"type:text"`
	MediaRef         *string
	MediaMIMEType    string `gorm:"column:media_mime_type"`
	MediaDescription *string `gorm:"type:text"`
	Status           int     `gorm:"index"`
	FailureReason    string  `gorm:"type:text"`
	AttemptCount     int
	CreatedAt        time.Time `gorm:"index:idx_messages_thread_created,priority:2"`
	UpdatedAt        time.Time
	IsDeleted        bool
	Version          int
}

func (messageModel) TableName() string {
	return "messages"
}

// MessageRepo accesses message data.
type MessageRepo struct {
	db *gorm.DB
}

// Transition describes a conditional status change.
type Transition struct {
	From types.MessageStatus
	To   types.MessageStatus
	// Set carries extra columns written with the status.
	Set map[string]any
	// CountAttempt increments attempt_count.
	CountAttempt bool
}

func (r *MessageRepo) Create(ctx context.Context, msg *types.Message) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	record := messageToModel(*msg)
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) Get(ctx context.Context, id string) (*types.Message, error) {
	var record messageModel
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "GetMessage", "message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	msg := messageFromModel(record)
	return &msg, nil
}

// Transition applies a compare-and-swap status update. When the row is no
// longer in the expected status it returns an InvalidState error and writes
// nothing.
func (r *MessageRepo) Transition(ctx context.Context, id string, t Transition) error {
	return transition(r.db.WithContext(ctx), id, t)
}

func transition(db *gorm.DB, id string, t Transition) error {
	updates := map[string]any{
		"status":     int(t.To),
		"updated_at": time.Now().UTC(),
		"version":    gorm.Expr("version + 1"),
	}
	for k, v := range t.Set {
		updates[k] = v
	}
	if t.CountAttempt {
		updates["attempt_count"] = gorm.Expr("attempt_count + 1")
	}
	res := db.Model(&messageModel{}).
		Where("id = ? AND status = ? AND is_deleted = ?", id, int(t.From), false).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update message status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.InvalidState, "TransitionMessage",
			fmt.Sprintf("message is no longer %s", t.From))
	}
	return nil
}

// CompleteReply marks the user message processed and inserts the AI reply in
// one transaction, so a reply exists if and only if the source is processed.
func (r *MessageRepo) CompleteReply(ctx context.Context, sourceID string, reply *types.Message) error {
	if reply == nil {
		return fmt.Errorf("reply cannot be nil")
	}
	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	reply.CreatedAt = now
	reply.UpdatedAt = now
	record := messageToModel(*reply)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := transition(tx, sourceID, Transition{
			From: types.StatusProcessingAI,
			To:   types.StatusProcessed,
			Set:  map[string]any{"failure_reason": ""},
		}); err != nil {
			return err
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to insert reply message: %w", err)
		}
		return nil
	})
}

// ListRecent returns up to limit most recent live messages of the thread in
// ascending creation order, skipping excludeID.
func (r *MessageRepo) ListRecent(ctx context.Context, ownerID, threadID, excludeID string, limit int) ([]types.Message, error) {
	query := r.db.WithContext(ctx).
		Where("thread_id = ? AND owner_id = ? AND is_deleted = ?", threadID, ownerID, false).
		Order("created_at DESC").
		Limit(limit)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}

	var records []messageModel
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	results := make([]types.Message, 0, len(records))
	for _, record := range records {
		results = append(results, messageFromModel(record))
	}

	// Oldest -> newest
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// ListSince returns live messages of the thread created at or after since,
// oldest first.
func (r *MessageRepo) ListSince(ctx context.Context, ownerID, threadID string, since time.Time) ([]types.Message, error) {
	var records []messageModel
	if err := r.db.WithContext(ctx).
		Where("thread_id = ? AND owner_id = ? AND is_deleted = ? AND created_at >= ?", threadID, ownerID, false, since.UTC()).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query messages since: %w", err)
	}
	results := make([]types.Message, 0, len(records))
	for _, record := range records {
		results = append(results, messageFromModel(record))
	}
	return results, nil
}

// ListActiveOwners returns owners with live messages created at or after since.
func (r *MessageRepo) ListActiveOwners(ctx context.Context, since time.Time) ([]string, error) {
	var owners []string
	if err := r.db.WithContext(ctx).
		Model(&messageModel{}).
		Where("created_at >= ? AND is_deleted = ?", since.UTC(), false).
		Distinct("owner_id").
		Order("owner_id").
		Pluck("owner_id", &owners).Error; err != nil {
		return nil, fmt.Errorf("failed to query active owners: %w", err)
	}
	return owners, nil
}

// DeleteThreadBatch hard-deletes up to limit messages of the thread,
// regardless of their deleted flag, and returns what it removed.
func (r *MessageRepo) DeleteThreadBatch(ctx context.Context, threadID string, limit int) ([]types.Message, error) {
	if limit <= 0 || limit > DeleteBatchSize {
		limit = DeleteBatchSize
	}
	var records []messageModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id = ?", threadID).Order("id").Limit(limit).Find(&records).Error; err != nil {
			return fmt.Errorf("failed to select message batch: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		ids := make([]string, 0, len(records))
		for _, record := range records {
			ids = append(ids, record.ID)
		}
		if err := tx.Where("id IN ?", ids).Delete(&messageModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete message batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	results := make([]types.Message, 0, len(records))
	for _, record := range records {
		results = append(results, messageFromModel(record))
	}
	return results, nil
}

func messageToModel(m types.Message) messageModel {
	return messageModel{
		ID:               m.ID,
		ThreadID:         m.ThreadID,
		OwnerID:          m.OwnerID,
		Role:             int(m.Role),
		Type:             int(m.Type),
		Content:          m.Content,
		Transcription:    m.Transcription,
		MediaRef:         m.MediaRef,
		MediaMIMEType:    m.MediaMIMEType,
		MediaDescription: m.MediaDescription,
		Status:           int(m.Status),
		FailureReason:    m.FailureReason,
		AttemptCount:     m.AttemptCount,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		IsDeleted:        m.IsDeleted,
		Version:          m.Version,
	}
}

func messageFromModel(m messageModel) types.Message {
	return types.Message{
		ID:               m.ID,
		ThreadID:         m.ThreadID,
		OwnerID:          m.OwnerID,
		Role:             types.Role(m.Role),
		Type:             types.MessageType(m.Type),
		Content:          m.Content,
		Transcription:    m.Transcription,
		MediaRef:         m.MediaRef,
		MediaMIMEType:    m.MediaMIMEType,
		MediaDescription: m.MediaDescription,
		Status:           types.MessageStatus(m.Status),
		FailureReason:    m.FailureReason,
		AttemptCount:     m.AttemptCount,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
		IsDeleted:        m.IsDeleted,
		Version:          m.Version,
	}
}
