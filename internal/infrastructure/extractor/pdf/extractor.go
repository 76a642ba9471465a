package pdf

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

// Extractor reads PDF text page by page so chunks can cite page numbers.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, filename string, raw []byte) (text domain.ExtractedText, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = domain.WrapError(domain.ErrCorruptFile, "extract "+filename, fmt.Errorf("pdf parser panic: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrCorruptFile, "extract "+filename, err)
	}

	total := reader.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return domain.ExtractedText{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return domain.ExtractedText{}, domain.WrapError(domain.ErrCorruptFile, fmt.Sprintf("extract %s page %d", filename, i), err)
		}
		pages = append(pages, content)
	}
	return domain.ExtractedText{Pages: pages}, nil
}
