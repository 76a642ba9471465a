package plaintext

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

// Extractor handles .txt and .md uploads. A form feed starts a new page.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(_ context.Context, filename string, raw []byte) (domain.ExtractedText, error) {
	if !utf8.Valid(raw) {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrCorruptFile, "extract "+filename, errors.New("text is not valid utf-8"))
	}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	text = strings.TrimPrefix(text, "\ufeff")
	return domain.ExtractedText{Pages: strings.Split(text, "\f")}, nil
}
