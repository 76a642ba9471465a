package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

// IndexSync keeps the in-process sparse index in step with the chunk store.
type IndexSync struct {
	chunks ports.ChunkStore
	sparse ports.SparseIndex
}

func NewIndexSync(chunks ports.ChunkStore, sparse ports.SparseIndex) *IndexSync {
	return &IndexSync{chunks: chunks, sparse: sparse}
}

// Warm rebuilds the sparse index from every active chunk in one pass.
func (s *IndexSync) Warm(ctx context.Context) error {
	chunks, err := s.chunks.ListActiveChunks(ctx)
	if err != nil {
		return fmt.Errorf("list active chunks: %w", err)
	}
	docs := make(map[string]struct{})
	for _, c := range chunks {
		docs[c.DocumentID] = struct{}{}
	}
	s.sparse.Rebuild(chunks)
	slog.Info("sparse_index_warmed", "documents", len(docs), "chunks", len(chunks))
	return nil
}

// Apply handles an index event published by another process.
func (s *IndexSync) Apply(ctx context.Context, event domain.IndexEvent) error {
	chunks, err := s.chunks.ListChunksByDocument(ctx, event.DocumentID)
	if err != nil {
		return fmt.Errorf("list chunks of %s: %w", event.DocumentID, err)
	}
	if len(chunks) > 0 {
		s.sparse.IndexDocument(event.DocumentID, chunks)
	}
	if event.SupersededID != "" && event.SupersededID != event.DocumentID {
		s.sparse.Remove(event.SupersededID)
	}
	slog.Debug("sparse_index_applied", "document_id", event.DocumentID, "superseded_id", event.SupersededID)
	return nil
}
