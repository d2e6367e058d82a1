// Package vectorindex stores hybrid listing vectors and answers
// nearest-neighbour queries. The in-memory index is authoritative for
// correctness; the remote index is an acceleration layer with failover.
package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// Memory is a concurrency-safe linear-scan index. Upserts are
// last-write-wins per listing id.
type Memory struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{vectors: make(map[string][]float32)}
}

// Upsert inserts or replaces the vector for a listing.
func (m *Memory) Upsert(_ context.Context, vec *model.EmbeddingVector) error {
	if vec == nil || vec.ListingID == "" {
		return apperrors.Validation("embedding vector with listing id is required")
	}
	if len(vec.HybridVector) != model.EmbeddingDim {
		return apperrors.Validationf("vector dimension %d, want %d", len(vec.HybridVector), model.EmbeddingDim)
	}

	stored := append([]float32(nil), vec.HybridVector...)

	m.mu.Lock()
	m.vectors[vec.ListingID] = stored
	m.mu.Unlock()
	return nil
}

// Remove drops a listing's vector from the index. Removing an absent id is
// a no-op.
func (m *Memory) Remove(_ context.Context, listingID string) error {
	m.mu.Lock()
	delete(m.vectors, listingID)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored vectors.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// Query scans all stored vectors and returns up to k matches with
// score >= minScore, ordered by descending score. Score is 1/(1+d) with d
// the Euclidean distance, so identical vectors score 1.
func (m *Memory) Query(_ context.Context, vector []float32, k int, minScore float64) ([]model.IndexMatch, error) {
	if len(vector) != model.EmbeddingDim {
		return nil, apperrors.Validationf("query dimension %d, want %d", len(vector), model.EmbeddingDim)
	}
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	matches := make([]model.IndexMatch, 0, len(m.vectors))
	for id, stored := range m.vectors {
		score := Score(vector, stored)
		if score < minScore {
			continue
		}
		matches = append(matches, model.IndexMatch{ListingID: id, Score: score})
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ListingID < matches[j].ListingID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Score converts Euclidean distance to a similarity in (0,1]: 1/(1+d).
func Score(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return 1 / (1 + math.Sqrt(sum))
}
