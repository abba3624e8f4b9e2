package storage

import (
	"context"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/easeaico/project-kairos/internal/types"
)

// memoryModel maps to the memories table.
type memoryModel struct {
	ID      string `gorm:"primaryKey;size:64"`
	OwnerID string `gorm:"size:128;index"`
	Content string `gorm:"type:text"`
	// Embedding stores the 768-dim vector; sqlite keeps the same JSON text form.
	Embedding  *pgvector.Vector `gorm:"type:vector(768)"`
	Source     string           `gorm:"size:32;index"`
	ThreadID   *string          `gorm:"size:64;index"`
	MessageID  *string          `gorm:"size:64"`
	InsightID  *string          `gorm:"size:128;index"`
	Categories datatypes.JSON
	CreatedAt  time.Time
}

func (memoryModel) TableName() string {
	return "memories"
}

// memorySearchRow is a memory with its cosine similarity.
type memorySearchRow struct {
	ID         string
	OwnerID    string
	Content    string
	Source     string
	ThreadID   *string
	MessageID  *string
	InsightID  *string
	Categories datatypes.JSON
	CreatedAt  time.Time
	Similarity float64
}

// MemoryRepo accesses memory data.
type MemoryRepo struct {
	db *gorm.DB
}

func (r *MemoryRepo) Create(ctx context.Context, mem *types.Memory) error {
	if mem == nil {
		return fmt.Errorf("memory cannot be nil")
	}
	if mem.OwnerID == "" {
		return fmt.Errorf("memory owner is required")
	}
	if mem.ID == "" {
		mem.ID = uuid.NewString()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	var vector *pgvector.Vector
	if len(mem.Embedding) > 0 {
		v := pgvector.NewVector(mem.Embedding)
		vector = &v
	}
	record := memoryModel{
		ID:         mem.ID,
		OwnerID:    mem.OwnerID,
		Content:    mem.Content,
		Embedding:  vector,
		Source:     string(mem.Source),
		ThreadID:   mem.ThreadID,
		MessageID:  mem.MessageID,
		InsightID:  mem.InsightID,
		Categories: marshalJSON(mem.Categories),
		CreatedAt:  mem.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

// SearchSimilar returns the topK memories of ownerID nearest to embedding by
// cosine distance. An empty owner never produces an unscoped query.
func (r *MemoryRepo) SearchSimilar(ctx context.Context, ownerID string, embedding []float32, topK int) ([]types.RetrievedMemory, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required for memory search")
	}
	if len(embedding) == 0 || topK <= 0 {
		return nil, nil
	}

	db := r.db.WithContext(ctx)
	var (
		distance string
		arg      any
	)
	if isSQLite(db) {
		blob, err := sqlite_vec.SerializeFloat32(embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize query vector: %w", err)
		}
		distance = "vec_distance_cosine(embedding, ?)"
		arg = blob
	} else {
		distance = "(embedding <=> ?)"
		arg = pgvector.NewVector(embedding)
	}

	query := fmt.Sprintf(`
		SELECT id, owner_id, content, source, thread_id, message_id, insight_id, categories, created_at,
		       1 - %[1]s AS similarity
		FROM memories
		WHERE owner_id = ? AND embedding IS NOT NULL
		ORDER BY %[1]s ASC
		LIMIT ?`, distance)

	var rows []memorySearchRow
	if err := db.Raw(query, arg, ownerID, arg, topK).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search similar memories: %w", err)
	}

	results := make([]types.RetrievedMemory, 0, len(rows))
	for _, row := range rows {
		results = append(results, types.RetrievedMemory{
			Memory: types.Memory{
				ID:         row.ID,
				OwnerID:    row.OwnerID,
				Content:    row.Content,
				Source:     types.MemorySource(row.Source),
				ThreadID:   row.ThreadID,
				MessageID:  row.MessageID,
				InsightID:  row.InsightID,
				Categories: unmarshalJSON[types.Category](row.Categories),
				CreatedAt:  row.CreatedAt.UTC(),
			},
			Similarity: row.Similarity,
		})
	}
	return results, nil
}

// ListByCategory returns up to limit newest memories tagged with category.
func (r *MemoryRepo) ListByCategory(ctx context.Context, ownerID string, category types.Category, limit int) ([]types.Memory, error) {
	db := r.db.WithContext(ctx).
		Omit("embedding").
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit)
	if isSQLite(db) {
		db = db.Where("EXISTS (SELECT 1 FROM json_each(memories.categories) WHERE json_each.value = ?)", string(category))
	} else {
		db = db.Where("categories @> ?::jsonb", string(marshalJSON([]types.Category{category})))
	}

	var records []memoryModel
	if err := db.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query memories by category: %w", err)
	}
	results := make([]types.Memory, 0, len(records))
	for _, record := range records {
		results = append(results, memoryFromModel(record))
	}
	return results, nil
}

// ExistsForInsight reports whether a memory was already promoted from insightID.
func (r *MemoryRepo) ExistsForInsight(ctx context.Context, ownerID, insightID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&memoryModel{}).
		Where("owner_id = ? AND insight_id = ?", ownerID, insightID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check insight memory: %w", err)
	}
	return count > 0, nil
}

// Stats counts an owner's memories by source.
func (r *MemoryRepo) Stats(ctx context.Context, ownerID string) (types.MemoryStats, error) {
	var rows []struct {
		Source string
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&memoryModel{}).
		Select("source, COUNT(*) AS count").
		Where("owner_id = ?", ownerID).
		Group("source").
		Scan(&rows).Error; err != nil {
		return types.MemoryStats{}, fmt.Errorf("failed to query memory stats: %w", err)
	}
	var stats types.MemoryStats
	for _, row := range rows {
		stats.Total += row.Count
		switch types.MemorySource(row.Source) {
		case types.SourceAutoExtracted:
			stats.AutoExtracted += row.Count
		case types.SourceUserConfirmed:
			stats.UserConfirmed += row.Count
		case types.SourceInsight:
			stats.Insight += row.Count
		}
	}
	return stats, nil
}

// DeleteThreadBatch hard-deletes up to limit memories extracted from the
// thread and returns their ids.
func (r *MemoryRepo) DeleteThreadBatch(ctx context.Context, threadID string, limit int) ([]string, error) {
	if limit <= 0 || limit > DeleteBatchSize {
		limit = DeleteBatchSize
	}
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&memoryModel{}).
			Where("thread_id = ?", threadID).
			Order("id").
			Limit(limit).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("failed to select memory batch: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("id IN ?", ids).Delete(&memoryModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete memory batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// memoryFromModel converts database model to domain struct.
func memoryFromModel(m memoryModel) types.Memory {
	var embedding []float32
	if m.Embedding != nil {
		embedding = m.Embedding.Slice()
	}
	return types.Memory{
		ID:         m.ID,
		OwnerID:    m.OwnerID,
		Content:    m.Content,
		Embedding:  embedding,
		Source:     types.MemorySource(m.Source),
		ThreadID:   m.ThreadID,
		MessageID:  m.MessageID,
		InsightID:  m.InsightID,
		Categories: unmarshalJSON[types.Category](m.Categories),
		CreatedAt:  m.CreatedAt.UTC(),
	}
}
