// Package extractor picks a format-specific text extractor by file extension.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/extractor/docx"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/extractor/xlsx"
)

type Router struct {
	byExt map[string]ports.TextExtractor
}

func NewRouter() *Router {
	text := plaintext.NewExtractor()
	return &Router{byExt: map[string]ports.TextExtractor{
		".txt":  text,
		".md":   text,
		".pdf":  pdf.NewExtractor(),
		".docx": docx.NewExtractor(),
		".xlsx": xlsx.NewExtractor(),
	}}
}

// Register overrides or adds the extractor for ext (".csv", ...).
func (r *Router) Register(ext string, extractor ports.TextExtractor) {
	r.byExt[strings.ToLower(ext)] = extractor
}

func (r *Router) Extract(ctx context.Context, filename string, raw []byte) (domain.ExtractedText, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	extractor, ok := r.byExt[ext]
	if !ok {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrUnsupportedFormat, "extract "+filename, fmt.Errorf("extension %q", ext))
	}

	text, err := extractor.Extract(ctx, filename, raw)
	if err != nil {
		return domain.ExtractedText{}, err
	}
	if blank(text) {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrEmptyDocument, "extract "+filename, errors.New("no extractable text"))
	}
	return text, nil
}

func blank(text domain.ExtractedText) bool {
	for _, page := range text.Pages {
		if strings.TrimSpace(page) != "" {
			return false
		}
	}
	return true
}
