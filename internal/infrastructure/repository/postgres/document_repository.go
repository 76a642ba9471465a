package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

const documentColumns = `id, filename, mime_type, content_hash, version, chunk_count, page_count, status, created_at`

// DocumentRepository stores document versions and their chunks. It serves
// both the document repository and the chunk store ports.
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	version INTEGER NOT NULL,
	chunk_count INTEGER NOT NULL,
	page_count INTEGER NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_active_filename ON documents(filename) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_documents_filename_version ON documents(filename, version DESC);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	idx INTEGER NOT NULL,
	text TEXT NOT NULL,
	span_start INTEGER NOT NULL,
	span_end INTEGER NOT NULL,
	page_start INTEGER NOT NULL,
	page_end INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, idx);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) FindActiveByFilename(ctx context.Context, filename string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE filename = $1 AND status = $2`,
		filename, string(domain.StatusActive))
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "find active document", fmt.Errorf("filename=%s", filename))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) ListActive(ctx context.Context) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE status = $1 ORDER BY filename`,
		string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("query active documents: %w", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// SaveVersion inserts doc as the next version of its filename and marks the
// previous active version superseded, atomically. A row left over from an
// earlier identical upload is replaced.
func (r *DocumentRepository) SaveVersion(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin version tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, doc.Filename); err != nil {
		return "", fmt.Errorf("acquire filename lock: %w", err)
	}

	var superseded sql.NullString
	var maxVersion int
	err = tx.QueryRowContext(ctx, `
SELECT
	(SELECT id FROM documents WHERE filename = $1 AND status = $2),
	COALESCE((SELECT MAX(version) FROM documents WHERE filename = $1), 0)
`, doc.Filename, string(domain.StatusActive)).Scan(&superseded, &maxVersion)
	if err != nil {
		return "", fmt.Errorf("read current version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, doc.ID); err != nil {
		return "", fmt.Errorf("drop stale version row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET status = $2 WHERE filename = $1 AND status = $3`,
		doc.Filename, string(domain.StatusSuperseded), string(domain.StatusActive)); err != nil {
		return "", fmt.Errorf("supersede previous version: %w", err)
	}

	doc.Version = maxVersion + 1
	doc.Status = domain.StatusActive
	doc.ChunkCount = len(chunks)
	if _, err := tx.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		doc.ID, doc.Filename, doc.MimeType, doc.ContentHash, doc.Version, doc.ChunkCount, doc.PageCount,
		string(doc.Status), doc.CreatedAt,
	); err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}

	if err := insertChunks(ctx, tx, chunks); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit version tx: %w", err)
	}
	if superseded.Valid && superseded.String != doc.ID {
		return superseded.String, nil
	}
	return "", nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []domain.Chunk) error {
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (id, document_id, idx, text, span_start, span_end, page_start, page_end)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.Index, c.Text, c.Span.Start, c.Span.End, c.Span.PageStart, c.Span.PageEnd,
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var status string
	if err := row.Scan(
		&doc.ID, &doc.Filename, &doc.MimeType, &doc.ContentHash, &doc.Version, &doc.ChunkCount,
		&doc.PageCount, &status, &doc.CreatedAt,
	); err != nil {
		return nil, err
	}
	doc.Status = domain.DocumentStatus(status)
	return &doc, nil
}
