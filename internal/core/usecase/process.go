package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

// ProcessUpload ingests a previously stored upload. Input errors are final;
// the caller decides whether other failures are retried.
func (uc *IngestDocumentUseCase) ProcessUpload(ctx context.Context, event domain.UploadEvent) error {
	if uc.storage == nil {
		return errors.New("object storage is not configured")
	}
	rc, err := uc.storage.Open(ctx, event.Key)
	if err != nil {
		return fmt.Errorf("open stored upload %s: %w", event.Key, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read stored upload %s: %w", event.Key, err)
	}
	if _, err := uc.Ingest(ctx, event.Filename, event.MimeType, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("process upload %s: %w", event.Key, err)
	}
	return nil
}

// processPipeline runs every step that can fail on bad input before the
// first index write.
func (uc *IngestDocumentUseCase) processPipeline(ctx context.Context, doc *domain.Document, raw []byte) error {
	text, err := uc.extractText(ctx, doc, raw)
	if err != nil {
		return err
	}
	chunks, err := uc.chunk(doc, text)
	if err != nil {
		return err
	}
	vectors, err := uc.embed(ctx, chunks)
	if err != nil {
		return err
	}

	if err := uc.index(ctx, chunks, vectors); err != nil {
		return err
	}
	superseded, err := uc.activate(ctx, doc, chunks)
	if err != nil {
		return err
	}
	uc.swapSparse(doc.ID, superseded, chunks)
	uc.announce(ctx, domain.IndexEvent{DocumentID: doc.ID, Filename: doc.Filename, SupersededID: superseded})
	return nil
}

func (uc *IngestDocumentUseCase) extractText(ctx context.Context, doc *domain.Document, raw []byte) (domain.ExtractedText, error) {
	text, err := uc.extractor.Extract(ctx, doc.Filename, raw)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("extract text: %w", err)
	}
	doc.PageCount = len(text.Pages)
	return text, nil
}

func (uc *IngestDocumentUseCase) chunk(doc *domain.Document, text domain.ExtractedText) ([]domain.Chunk, error) {
	chunks, err := uc.chunker.Split(text)
	if err != nil {
		return nil, fmt.Errorf("chunk document: %w", err)
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "chunk document", errors.New("chunking produced zero chunks"))
	}
	for i := range chunks {
		chunks[i].Index = i
		chunks[i].ID = domain.ChunkID(doc.ID, i)
		chunks[i].DocumentID = doc.ID
		chunks[i].Filename = doc.Filename
	}
	doc.ChunkCount = len(chunks)
	return chunks, nil
}

func (uc *IngestDocumentUseCase) embed(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbeddingService, "embed chunks", err)
	}
	if len(vectors) != len(chunks) {
		return nil, domain.WrapError(
			domain.ErrEmbeddingService,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)),
		)
	}
	return vectors, nil
}

func (uc *IngestDocumentUseCase) index(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if err := uc.vectorDB.Upsert(ctx, chunks, vectors); err != nil {
		return fmt.Errorf("index chunks in vector db: %w", err)
	}
	return nil
}

func (uc *IngestDocumentUseCase) activate(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) (string, error) {
	superseded, err := uc.repo.SaveVersion(ctx, doc, chunks)
	if err != nil {
		return "", fmt.Errorf("save document version: %w", err)
	}
	return superseded, nil
}

func (uc *IngestDocumentUseCase) swapSparse(documentID, superseded string, chunks []domain.Chunk) {
	if uc.sparse == nil {
		return
	}
	uc.sparse.IndexDocument(documentID, chunks)
	if superseded != "" && superseded != documentID {
		uc.sparse.Remove(superseded)
	}
}

func (uc *IngestDocumentUseCase) announce(ctx context.Context, event domain.IndexEvent) {
	if uc.queue == nil {
		return
	}
	if err := uc.queue.PublishIndexed(ctx, event); err != nil {
		slog.Warn("index_event_publish_failed", "document_id", event.DocumentID, "error", err)
	}
}
