package memory

import (
	"context"

	"github.com/easeaico/project-kairos/internal/types"
)

// VectorIndex mirrors stored memories into an external nearest-neighbour index.
// Search must only return memories of ownerID.
type VectorIndex interface {
	Upsert(ctx context.Context, mem types.Memory) error
	Search(ctx context.Context, ownerID string, embedding []float32, topK int) ([]types.RetrievedMemory, error)
	Delete(ctx context.Context, ids []string) error
}
