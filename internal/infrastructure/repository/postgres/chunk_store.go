package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

const chunkSelect = `
SELECT c.id, c.document_id, d.filename, c.idx, c.text, c.span_start, c.span_end, c.page_start, c.page_end
FROM chunks c
JOIN documents d ON d.id = c.document_id
`

// GetChunks resolves ids to chunks of active documents; unknown and
// superseded ids are absent from the result.
func (r *DocumentRepository) GetChunks(ctx context.Context, ids []string) (map[string]domain.Chunk, error) {
	out := make(map[string]domain.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, chunkSelect+`WHERE c.id = ANY($1::text[]) AND d.status = $2`,
		ids, string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		out[c.ID] = c
	}
	return out, nil
}

func (r *DocumentRepository) ListChunksByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, chunkSelect+`WHERE c.document_id = $1 ORDER BY c.idx`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query document chunks: %w", err)
	}
	return scanChunks(rows)
}

func (r *DocumentRepository) ListActiveChunks(ctx context.Context) ([]domain.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, chunkSelect+`WHERE d.status = $1 ORDER BY c.document_id, c.idx`,
		string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("query active chunks: %w", err)
	}
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]domain.Chunk, error) {
	defer rows.Close()
	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(
			&c.ID, &c.DocumentID, &c.Filename, &c.Index, &c.Text,
			&c.Span.Start, &c.Span.End, &c.Span.PageStart, &c.Span.PageEnd,
		); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}
