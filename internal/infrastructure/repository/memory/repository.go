// Package memory keeps documents and chunks in process for single-binary
// runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

type Repository struct {
	mu     sync.RWMutex
	docs   map[string]domain.Document
	chunks map[string][]domain.Chunk
}

func NewRepository() *Repository {
	return &Repository{
		docs:   make(map[string]domain.Document),
		chunks: make(map[string][]domain.Chunk),
	}
}

func (r *Repository) GetByID(_ context.Context, id string) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
	}
	return &doc, nil
}

func (r *Repository) FindActiveByFilename(_ context.Context, filename string) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if doc, ok := r.activeLocked(filename); ok {
		return &doc, nil
	}
	return nil, domain.WrapError(domain.ErrDocumentNotFound, "find active document", fmt.Errorf("filename=%s", filename))
}

func (r *Repository) SaveVersion(_ context.Context, doc *domain.Document, chunks []domain.Chunk) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	superseded := ""
	maxVersion := 0
	for id, d := range r.docs {
		if d.Filename != doc.Filename {
			continue
		}
		maxVersion = max(maxVersion, d.Version)
		if d.Status == domain.StatusActive && id != doc.ID {
			d.Status = domain.StatusSuperseded
			r.docs[id] = d
			superseded = id
		}
	}

	doc.Version = maxVersion + 1
	doc.Status = domain.StatusActive
	doc.ChunkCount = len(chunks)
	r.docs[doc.ID] = *doc
	r.chunks[doc.ID] = slices.Clone(chunks)
	return superseded, nil
}

func (r *Repository) ListActive(context.Context) ([]domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Document
	for _, d := range r.docs {
		if d.Status == domain.StatusActive {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b domain.Document) int { return strings.Compare(a.Filename, b.Filename) })
	return out, nil
}

func (r *Repository) GetChunks(_ context.Context, ids []string) (map[string]domain.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.Chunk, len(ids))
	for _, id := range ids {
		docID, ok := documentOf(id)
		if !ok {
			continue
		}
		doc, ok := r.docs[docID]
		if !ok || doc.Status != domain.StatusActive {
			continue
		}
		for _, c := range r.chunks[docID] {
			if c.ID == id {
				out[id] = c
				break
			}
		}
	}
	return out, nil
}

func (r *Repository) ListChunksByDocument(_ context.Context, documentID string) ([]domain.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.chunks[documentID]), nil
}

func (r *Repository) ListActiveChunks(context.Context) ([]domain.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.docs))
	for id, d := range r.docs {
		if d.Status == domain.StatusActive {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	var out []domain.Chunk
	for _, id := range ids {
		out = append(out, r.chunks[id]...)
	}
	return out, nil
}

func (r *Repository) activeLocked(filename string) (domain.Document, bool) {
	for _, d := range r.docs {
		if d.Filename == filename && d.Status == domain.StatusActive {
			return d, true
		}
	}
	return domain.Document{}, false
}

// documentOf splits a chunk id into its document id.
func documentOf(chunkID string) (string, bool) {
	i := strings.LastIndexByte(chunkID, '-')
	if i <= 0 {
		return "", false
	}
	return chunkID[:i], true
}
