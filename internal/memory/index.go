package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tOgg1/omega/internal/models"
)

// Index errors.
var (
	ErrEmptyID           = errors.New("vector id is required")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Searcher is the vector-similarity collaborator.
type Searcher interface {
	Search(ctx context.Context, query []float64, k int) ([]models.ScoredID, error)
}

// Index is a brute-force cosine similarity index held in memory.
type Index struct {
	dim int

	mu      sync.RWMutex
	vectors map[string][]float64
}

// NewIndex creates an index for vectors of the given dimension.
func NewIndex(dim int) *Index {
	if dim <= 0 {
		dim = Dimension
	}
	return &Index{
		dim:     dim,
		vectors: make(map[string][]float64),
	}
}

// Add inserts or replaces the vector stored under id.
func (x *Index) Add(id string, vector []float64) error {
	if id == "" {
		return ErrEmptyID
	}
	if len(vector) != x.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), x.dim)
	}
	stored := make([]float64, len(vector))
	copy(stored, vector)

	x.mu.Lock()
	x.vectors[id] = stored
	x.mu.Unlock()
	return nil
}

// Remove deletes id from the index.
func (x *Index) Remove(id string) {
	x.mu.Lock()
	delete(x.vectors, id)
	x.mu.Unlock()
}

// Len returns the number of indexed vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Search returns up to k ids ordered by descending similarity. Ties are
// broken by id so results are stable.
func (x *Index) Search(ctx context.Context, query []float64, k int) ([]models.ScoredID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), x.dim)
	}
	if k <= 0 {
		return []models.ScoredID{}, nil
	}

	x.mu.RLock()
	results := make([]models.ScoredID, 0, len(x.vectors))
	for id, vec := range x.vectors {
		results = append(results, models.ScoredID{ID: id, Score: CosineSimilarity(query, vec)})
	}
	x.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
