package ports

import (
	"context"
	"io"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

// DocumentIngestor is the inbound contract for adding documents to the corpus.
type DocumentIngestor interface {
	Ingest(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.UploadEvent, error)
}

// DocumentProcessor is the inbound contract for asynchronous upload processing.
type DocumentProcessor interface {
	ProcessUpload(ctx context.Context, event domain.UploadEvent) error
}

// DocumentQueryService answers questions against the corpus.
type DocumentQueryService interface {
	Answer(ctx context.Context, question, sessionID string) (*domain.GroundedAnswer, error)
	ClearSession(ctx context.Context, sessionID string) error
}

// DocumentReader is the inbound read model for the corpus.
type DocumentReader interface {
	ListDocuments(ctx context.Context) ([]string, error)
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// Evaluator scores the pipeline against a set of reference questions.
type Evaluator interface {
	Evaluate(ctx context.Context, cases []domain.EvalCase) (*domain.EvalReport, error)
}
