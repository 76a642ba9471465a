package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

// DocumentRepository persists document versions.
type DocumentRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	FindActiveByFilename(ctx context.Context, filename string) (*domain.Document, error)
	// SaveVersion stores doc with its chunks as the active version of its
	// filename and supersedes the previous one in the same transaction.
	// It returns the id of the superseded version, if any.
	SaveVersion(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) (string, error)
	ListActive(ctx context.Context) ([]domain.Document, error)
}

// ChunkStore resolves chunk ids to chunk text. Only chunks of active
// document versions are returned.
type ChunkStore interface {
	GetChunks(ctx context.Context, ids []string) (map[string]domain.Chunk, error)
	ListChunksByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error)
	ListActiveChunks(ctx context.Context) ([]domain.Chunk, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion and index events.
type MessageQueue interface {
	PublishUpload(ctx context.Context, event domain.UploadEvent) error
	SubscribeUploads(ctx context.Context, handler func(context.Context, domain.UploadEvent) error) error
	PublishIndexed(ctx context.Context, event domain.IndexEvent) error
	SubscribeIndexed(ctx context.Context, handler func(context.Context, domain.IndexEvent) error) error
}

// TextExtractor turns raw document bytes into paginated text.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, raw []byte) (domain.ExtractedText, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits extracted text into overlapping chunks.
type Chunker interface {
	Split(text domain.ExtractedText) ([]domain.Chunk, error)
}

// VectorStore indexes chunk vectors and performs semantic search.
type VectorStore interface {
	Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
	Search(ctx context.Context, queryVector []float32, limit int) ([]domain.ScoredChunk, error)
}

// SparseIndex is the in-process lexical index.
type SparseIndex interface {
	IndexDocument(documentID string, chunks []domain.Chunk)
	Rebuild(chunks []domain.Chunk)
	Remove(documentID string)
	Search(ctx context.Context, query string, limit int) ([]domain.ScoredChunk, error)
}

// AnswerGenerator creates the final user-facing answer.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, history []domain.Turn, chunks []domain.Chunk) (string, error)
}

// Judge decides, per claim, whether the claim is supported by its context.
type Judge interface {
	Judge(ctx context.Context, checks []domain.ClaimCheck) ([]bool, error)
}

// RelevanceScorer scores candidates against a query. Higher is better.
type RelevanceScorer interface {
	Score(ctx context.Context, query string, candidates []domain.Candidate) ([]float64, error)
}

// SessionStore keeps bounded per-session conversation memory.
type SessionStore interface {
	Append(sessionID string, turn domain.Turn)
	Context(sessionID string) []domain.Turn
	Recent(sessionID string, n int) []domain.Turn
	Clear(sessionID string)
}

// PipelineObserver receives per-request pipeline measurements.
type PipelineObserver interface {
	ObserveStage(stage string, duration time.Duration)
	ObserveDegraded(path string)
	ObserveAnswer(confidence domain.Confidence, citations int)
}
