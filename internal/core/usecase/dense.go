package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

// searchDense embeds and searches, retrying the whole path once.
func (uc *QueryUseCase) searchDense(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	if uc.embedder == nil || uc.vectorDB == nil {
		return nil, domain.WrapError(domain.ErrEmbeddingService, "dense search", errors.New("dense retrieval not configured"))
	}
	ctx, cancel := context.WithTimeout(ctx, uc.opts.RetrievalTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "query.dense")
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		hits, err := uc.denseOnce(ctx, query)
		if err == nil {
			return hits, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		slog.WarnContext(ctx, "dense_retry", "attempt", attempt, "error", err)
	}
	span.RecordError(lastErr)
	return nil, domain.WrapError(domain.ErrEmbeddingService, "dense search", lastErr)
}

func (uc *QueryUseCase) denseOnce(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	vector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := uc.vectorDB.Search(ctx, vector, uc.opts.DenseTopK)
	if err != nil {
		return nil, fmt.Errorf("search vector db: %w", err)
	}
	return hits, nil
}
