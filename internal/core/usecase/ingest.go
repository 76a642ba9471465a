package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

const defaultMaxUploadBytes int64 = 50 << 20

var supportedExtensions = []string{".pdf", ".docx", ".txt", ".md", ".xlsx"}

type IngestDependencies struct {
	Repo      ports.DocumentRepository
	Storage   ports.ObjectStorage
	Queue     ports.MessageQueue
	Extractor ports.TextExtractor
	Chunker   ports.Chunker
	Embedder  ports.Embedder
	VectorDB  ports.VectorStore
	Sparse    ports.SparseIndex
}

type IngestDocumentUseCase struct {
	repo      ports.DocumentRepository
	storage   ports.ObjectStorage
	queue     ports.MessageQueue
	extractor ports.TextExtractor
	chunker   ports.Chunker
	embedder  ports.Embedder
	vectorDB  ports.VectorStore
	sparse    ports.SparseIndex

	maxBytes int64
	locks    *keyedMutex
	now      func() time.Time
}

func NewIngestDocumentUseCase(deps IngestDependencies, maxUploadBytes int64) *IngestDocumentUseCase {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &IngestDocumentUseCase{
		repo:      deps.Repo,
		storage:   deps.Storage,
		queue:     deps.Queue,
		extractor: deps.Extractor,
		chunker:   deps.Chunker,
		embedder:  deps.Embedder,
		vectorDB:  deps.VectorDB,
		sparse:    deps.Sparse,
		maxBytes:  maxUploadBytes,
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest indexes one document synchronously. Uploads of the same filename are
// serialized; re-ingesting identical content returns the active version.
func (uc *IngestDocumentUseCase) Ingest(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error) {
	filename, err := validateFilename(filename)
	if err != nil {
		return nil, err
	}
	raw, err := uc.readBody(body)
	if err != nil {
		return nil, err
	}

	unlock := uc.locks.Lock(filename)
	defer unlock()

	hash := domain.ContentHash(raw)
	current, err := uc.repo.FindActiveByFilename(ctx, filename)
	if err != nil && !domain.IsKind(err, domain.ErrDocumentNotFound) {
		return nil, fmt.Errorf("find active version: %w", err)
	}
	if current != nil && current.ContentHash == hash {
		slog.Info("ingest_unchanged", "document_id", current.ID, "filename", filename)
		return current, nil
	}

	doc := &domain.Document{
		ID:          domain.DocumentID(filename, hash),
		Filename:    filename,
		MimeType:    detectMimeType(filename, mimeType),
		ContentHash: hash,
		Status:      domain.StatusActive,
		CreatedAt:   uc.now(),
	}
	started := time.Now()
	if err := uc.processPipeline(ctx, doc, raw); err != nil {
		slog.Error("ingest_failed", "filename", filename, "error", err)
		return nil, err
	}
	slog.Info("ingest_completed",
		"document_id", doc.ID,
		"filename", doc.Filename,
		"version", doc.Version,
		"chunks", doc.ChunkCount,
		"pages", doc.PageCount,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return doc, nil
}

// Upload stores the raw file and hands it to the worker.
func (uc *IngestDocumentUseCase) Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.UploadEvent, error) {
	filename, err := validateFilename(filename)
	if err != nil {
		return nil, err
	}
	if uc.storage == nil || uc.queue == nil {
		return nil, errors.New("async upload is not configured")
	}
	raw, err := uc.readBody(body)
	if err != nil {
		return nil, err
	}

	event := domain.UploadEvent{
		Key:        fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(filename)),
		Filename:   filename,
		MimeType:   detectMimeType(filename, mimeType),
		UploadedAt: uc.now(),
	}
	if err := uc.storage.Save(ctx, event.Key, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}
	if err := uc.queue.PublishUpload(ctx, event); err != nil {
		return nil, fmt.Errorf("publish upload event: %w", err)
	}
	return &event, nil
}

func (uc *IngestDocumentUseCase) ListDocuments(ctx context.Context) ([]string, error) {
	docs, err := uc.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active documents: %w", err)
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Filename)
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

func (uc *IngestDocumentUseCase) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", errors.New("document id is required"))
	}
	return uc.repo.GetByID(ctx, id)
}

func (uc *IngestDocumentUseCase) readBody(body io.Reader) ([]byte, error) {
	if body == nil {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "read upload", errors.New("no body"))
	}
	raw, err := io.ReadAll(io.LimitReader(body, uc.maxBytes+1))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read upload", err)
	}
	if int64(len(raw)) > uc.maxBytes {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read upload", fmt.Errorf("file exceeds %d bytes", uc.maxBytes))
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "read upload", errors.New("file is empty"))
	}
	return raw, nil
}

func validateFilename(name string) (string, error) {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return "", domain.WrapError(domain.ErrInvalidInput, "validate filename", errors.New("filename is required"))
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(supportedExtensions, ext) {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "validate filename", fmt.Errorf("extension %q", ext))
	}
	return name, nil
}

func detectMimeType(filename, declared string) string {
	if declared = strings.TrimSpace(declared); declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return "application/octet-stream"
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.bin"
	}
	return base
}

// keyedMutex serializes work per key and frees entries once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
