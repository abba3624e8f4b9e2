package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/easeaico/project-kairos/internal/types"
)

const (
	payloadOwnerID    = "owner_id"
	payloadMemoryID   = "memory_id"
	payloadContent    = "content"
	payloadSource     = "source"
	payloadThreadID   = "thread_id"
	payloadCategories = "categories"
	payloadCreatedAt  = "created_at"
)

// pointIDNamespace 用于把非 UUID 的记忆 ID 映射成稳定的点 ID。
var pointIDNamespace = uuid.MustParse("6d1c4b0e-3c0a-4f5e-9c51-3f0b7a1d2e44")

type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	Collection string
}

// QdrantIndex stores memory vectors in a single collection, scoped by an
// owner_id payload filter.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantIndex connects and ensures the collection exists.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "kairos_memories"
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	idx := &QdrantIndex{client: client, collection: cfg.Collection}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check qdrant collection: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(types.EmbeddingDimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create qdrant collection: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, mem types.Memory) error {
	if mem.OwnerID == "" {
		return fmt.Errorf("memory owner is required")
	}
	if len(mem.Embedding) != types.EmbeddingDimensions {
		return fmt.Errorf("embedding dimensions mismatch: got %d want %d", len(mem.Embedding), types.EmbeddingDimensions)
	}
	categories := make([]string, 0, len(mem.Categories))
	for _, c := range mem.Categories {
		categories = append(categories, string(c))
	}
	payload := map[string]any{
		payloadOwnerID:    mem.OwnerID,
		payloadMemoryID:   mem.ID,
		payloadContent:    mem.Content,
		payloadSource:     string(mem.Source),
		payloadCategories: strings.Join(categories, ","),
		payloadCreatedAt:  mem.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if mem.ThreadID != nil {
		payload[payloadThreadID] = *mem.ThreadID
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(PointID(mem.ID)),
			Vectors: qdrant.NewVectors(mem.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert qdrant point: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, ownerID string, embedding []float32, topK int) ([]types.RetrievedMemory, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner is required for memory search")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	limit := uint64(topK)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(embedding...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(payloadOwnerID, ownerID)},
		},
		Limit:       &limit,
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query qdrant: %w", err)
	}

	results := make([]types.RetrievedMemory, 0, len(points))
	for _, p := range points {
		results = append(results, retrievedFromPayload(p.GetPayload(), float64(p.GetScore())))
	}
	return results, nil
}

func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(PointID(id)))
	}
	wait := true
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("failed to delete qdrant points: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// PointID returns id itself when it is a UUID, else a stable UUIDv5 derived from it.
func PointID(id string) string {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return uuid.NewSHA1(pointIDNamespace, []byte(id)).String()
}

func retrievedFromPayload(payload map[string]*qdrant.Value, score float64) types.RetrievedMemory {
	str := func(key string) string {
		if v, ok := payload[key]; ok && v != nil {
			return v.GetStringValue()
		}
		return ""
	}
	mem := types.Memory{
		ID:      str(payloadMemoryID),
		OwnerID: str(payloadOwnerID),
		Content: str(payloadContent),
		Source:  types.MemorySource(str(payloadSource)),
	}
	if thread := str(payloadThreadID); thread != "" {
		mem.ThreadID = &thread
	}
	for _, c := range strings.Split(str(payloadCategories), ",") {
		if cat := types.Category(c); cat.Valid() {
			mem.Categories = append(mem.Categories, cat)
		}
	}
	if ts, err := time.Parse(time.RFC3339Nano, str(payloadCreatedAt)); err == nil {
		mem.CreatedAt = ts
	}
	return types.RetrievedMemory{Memory: mem, Similarity: score}
}
