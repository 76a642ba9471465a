package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

const documentPart = "word/document.xml"

// Extractor reads the main document part of a .docx package. Explicit and
// last-rendered page breaks start a new page.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(_ context.Context, filename string, raw []byte) (domain.ExtractedText, error) {
	op := "extract " + filename
	archive, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrCorruptFile, op, err)
	}

	var part *zip.File
	for _, f := range archive.File {
		if f.Name == documentPart {
			part = f
			break
		}
	}
	if part == nil {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrCorruptFile, op, errors.New("missing "+documentPart))
	}

	rc, err := part.Open()
	if err != nil {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrCorruptFile, op, err)
	}
	defer rc.Close()

	pages, err := parseDocument(rc)
	if err != nil {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrCorruptFile, op, err)
	}
	return domain.ExtractedText{Pages: pages}, nil
}

func parseDocument(r io.Reader) ([]string, error) {
	decoder := xml.NewDecoder(r)
	var (
		pages  []string
		page   strings.Builder
		inText bool
	)
	flushPage := func() {
		pages = append(pages, page.String())
		page.Reset()
	}

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				page.WriteByte('\t')
			case "cr":
				page.WriteByte('\n')
			case "br":
				if attr(t, "type") == "page" {
					flushPage()
				} else {
					page.WriteByte('\n')
				}
			case "lastRenderedPageBreak":
				if page.Len() > 0 {
					flushPage()
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				page.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				page.Write(t)
			}
		}
	}
	flushPage()
	return pages, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
