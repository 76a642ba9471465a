package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

// arrayConverter lets []string arguments through as the pgx driver does.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if ids, ok := v.([]string); ok {
		return ids, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

type textArrayArg []string

func (a textArrayArg) Match(v driver.Value) bool {
	got, ok := v.([]string)
	return ok && slices.Equal(got, a)
}

func newRepoWithMock(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &DocumentRepository{db: db}, mock, func() { _ = db.Close() }
}

func newVersion() (*domain.Document, []domain.Chunk) {
	doc := &domain.Document{
		ID:          "new-id",
		Filename:    "policy.pdf",
		MimeType:    "application/pdf",
		ContentHash: "hash",
		PageCount:   1,
		CreatedAt:   time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}
	chunks := []domain.Chunk{{
		ID: "new-id-00000", DocumentID: "new-id", Filename: "policy.pdf", Text: "text",
		Span: domain.Span{Start: 0, End: 4, PageStart: 1, PageEnd: 1},
	}}
	return doc, chunks
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, filename, mime_type, content_hash").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindActiveByFilenameScansDocument(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	created := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "filename", "mime_type", "content_hash", "version", "chunk_count", "page_count", "status", "created_at"}).
		AddRow("d1", "policy.pdf", "application/pdf", "h", 3, 12, 4, "active", created)
	mock.ExpectQuery("FROM documents WHERE filename").
		WithArgs("policy.pdf", "active").
		WillReturnRows(rows)

	doc, err := repo.FindActiveByFilename(context.Background(), "policy.pdf")
	if err != nil {
		t.Fatalf("FindActiveByFilename() error = %v", err)
	}
	if doc.Version != 3 || doc.ChunkCount != 12 || doc.Status != domain.StatusActive || !doc.CreatedAt.Equal(created) {
		t.Fatalf("unexpected document %+v", doc)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveVersionSupersedesPreviousVersion(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()
	doc, chunks := newVersion()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("policy.pdf").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`MAX\(version\)`).
		WithArgs("policy.pdf", "active").
		WillReturnRows(sqlmock.NewRows([]string{"id", "max"}).AddRow("old-id", 1))
	mock.ExpectExec("DELETE FROM documents").WithArgs("new-id").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE documents SET status").
		WithArgs("policy.pdf", "superseded", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("new-id", "policy.pdf", "application/pdf", "hash", 2, 1, 1, "active", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare("INSERT INTO chunks").ExpectExec().
		WithArgs("new-id-00000", "new-id", 0, "text", 0, 4, 1, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	superseded, err := repo.SaveVersion(context.Background(), doc, chunks)
	if err != nil {
		t.Fatalf("SaveVersion() error = %v", err)
	}
	if superseded != "old-id" || doc.Version != 2 || doc.ChunkCount != 1 {
		t.Fatalf("unexpected result superseded=%q doc=%+v", superseded, doc)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveVersionRollsBackOnChunkFailure(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()
	doc, chunks := newVersion()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`MAX\(version\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "max"}).AddRow(nil, 0))
	mock.ExpectExec("DELETE FROM documents").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE documents SET status").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare("INSERT INTO chunks").ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, err := repo.SaveVersion(context.Background(), doc, chunks); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetChunksFiltersThroughActiveJoin(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows([]string{"id", "document_id", "filename", "idx", "text", "span_start", "span_end", "page_start", "page_end"}).
		AddRow("d1-00000", "d1", "policy.pdf", 0, "remote work", 0, 11, 1, 1)
	mock.ExpectQuery("JOIN documents d").
		WithArgs(textArrayArg{"d1-00000", "gone-00000"}, "active").
		WillReturnRows(rows)

	got, err := repo.GetChunks(context.Background(), []string{"d1-00000", "gone-00000"})
	if err != nil {
		t.Fatalf("GetChunks() error = %v", err)
	}
	if len(got) != 1 || got["d1-00000"].Filename != "policy.pdf" || got["d1-00000"].Span.End != 11 {
		t.Fatalf("unexpected chunks %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetChunksEmptyInputSkipsQuery(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	got, err := repo.GetChunks(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("GetChunks(nil) = %v, %v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
