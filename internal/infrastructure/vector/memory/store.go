// Package memory is an in-process cosine vector store for single-binary runs
// and tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

type Store struct {
	mu      sync.RWMutex
	dim     int
	vectors map[string][]float32
}

func New() *Store {
	return &Store{vectors: make(map[string][]float32)}
}

func (s *Store) Upsert(_ context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch: %d/%d", len(chunks), len(vectors))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ch := range chunks {
		v := vectors[i]
		if s.dim == 0 {
			s.dim = len(v)
		}
		if len(v) != s.dim {
			return fmt.Errorf("vector dimension %d, store has %d", len(v), s.dim)
		}
		s.vectors[ch.ID] = normalize(v)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, query []float32, limit int) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	q := normalize(query)

	s.mu.RLock()
	if s.dim != 0 && len(q) != s.dim {
		s.mu.RUnlock()
		return nil, fmt.Errorf("query dimension %d, store has %d", len(q), s.dim)
	}
	hits := make([]domain.ScoredChunk, 0, len(s.vectors))
	for id, v := range s.vectors {
		hits = append(hits, domain.ScoredChunk{ChunkID: id, Score: dot(q, v)})
	}
	s.mu.RUnlock()

	slices.SortFunc(hits, func(a, b domain.ScoredChunk) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ChunkID, b.ChunkID)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	n := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
