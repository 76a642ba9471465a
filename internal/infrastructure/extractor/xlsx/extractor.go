package xlsx

import (
	"bytes"
	"context"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

// Extractor renders each worksheet as one page of tab-separated rows.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, filename string, raw []byte) (domain.ExtractedText, error) {
	op := "extract " + filename
	book, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrCorruptFile, op, err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	pages := make([]string, 0, len(sheets))
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return domain.ExtractedText{}, err
		}
		rows, err := book.GetRows(sheet)
		if err != nil {
			return domain.ExtractedText{}, domain.WrapError(domain.ErrCorruptFile, op+" sheet "+sheet, err)
		}

		var b strings.Builder
		b.WriteString(sheet)
		b.WriteString("\n\n")
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if len(rows) == 0 {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, b.String())
	}
	return domain.ExtractedText{Pages: pages}, nil
}
