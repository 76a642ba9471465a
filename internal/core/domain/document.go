package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type DocumentStatus string

const (
	StatusActive     DocumentStatus = "active"
	StatusSuperseded DocumentStatus = "superseded"
)

type Document struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type"`
	ContentHash string         `json:"content_hash"`
	Version     int            `json:"version"`
	ChunkCount  int            `json:"chunk_count"`
	PageCount   int            `json:"page_count"`
	Status      DocumentStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`

	Chunks []Chunk `json:"-"`
}

// ExtractedText is the output of a text extractor. Pages keep source order;
// formats without pagination produce a single page.
type ExtractedText struct {
	Pages []string
}

// Span locates a chunk inside the concatenated document text, in runes.
type Span struct {
	Start     int `json:"start"`
	End       int `json:"end"`
	PageStart int `json:"page_start"`
	PageEnd   int `json:"page_end"`
}

type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	Span       Span   `json:"span"`
}

// IndexEvent announces that a document version became searchable.
type IndexEvent struct {
	DocumentID   string `json:"document_id"`
	Filename     string `json:"filename"`
	SupersededID string `json:"superseded_id,omitempty"`
}

// DocumentID derives the stable identifier of a document version.
func DocumentID(filename, contentHash string) string {
	sum := sha256.Sum256([]byte(filename + "\x00" + contentHash))
	return hex.EncodeToString(sum[:])[:32]
}

func ContentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s-%05d", documentID, index)
}

// UploadEvent hands a stored upload to the ingestion worker.
type UploadEvent struct {
	Key        string    `json:"key"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mime_type"`
	UploadedAt time.Time `json:"uploaded_at"`
}
