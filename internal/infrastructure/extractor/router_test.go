package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

func TestRouterPlainTextPages(t *testing.T) {
	got, err := NewRouter().Extract(context.Background(), "notes.MD", []byte("page one\fpage two"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got.Pages) != 2 || got.Pages[1] != "page two" {
		t.Fatalf("unexpected pages: %#v", got.Pages)
	}
}

func TestRouterRejectsUnknownExtension(t *testing.T) {
	_, err := NewRouter().Extract(context.Background(), "slides.pptx", []byte("x"))
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestRouterBlankTextIsEmptyDocument(t *testing.T) {
	_, err := NewRouter().Extract(context.Background(), "blank.txt", []byte("  \n\f \t"))
	if !errors.Is(err, domain.ErrEmptyDocument) {
		t.Fatalf("expected empty document, got %v", err)
	}
}

func TestRouterCorruptFiles(t *testing.T) {
	router := NewRouter()
	for _, name := range []string{"broken.pdf", "broken.docx", "broken.xlsx"} {
		_, err := router.Extract(context.Background(), name, []byte("definitely not a binary container"))
		if !errors.Is(err, domain.ErrCorruptFile) {
			t.Fatalf("%s: expected corrupt file, got %v", name, err)
		}
	}
	if _, err := router.Extract(context.Background(), "latin1.txt", []byte{0xff, 0xfe, 0x41}); !errors.Is(err, domain.ErrCorruptFile) {
		t.Fatalf("invalid utf-8: expected corrupt file, got %v", err)
	}
}

func TestRouterDocxPageBreaks(t *testing.T) {
	const body = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Employees may work remotely</w:t></w:r><w:r><w:tab/><w:t>3 days per week.</w:t></w:r></w:p>
<w:p><w:r><w:br w:type="page"/></w:r></w:p>
<w:p><w:r><w:t>Travel requires approval.</w:t></w:r></w:p>
</w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("word/document.xml")
	_, _ = w.Write([]byte(body))
	_ = zw.Close()

	got, err := NewRouter().Extract(context.Background(), "policy.docx", buf.Bytes())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %#v", got.Pages)
	}
	if !strings.Contains(got.Pages[0], "Employees may work remotely\t3 days per week.") {
		t.Fatalf("page 1 = %q", got.Pages[0])
	}
	if !strings.Contains(got.Pages[1], "Travel requires approval.") {
		t.Fatalf("page 2 = %q", got.Pages[1])
	}
}

func TestRouterXLSXSheetPerPage(t *testing.T) {
	book := excelize.NewFile()
	defer book.Close()
	_ = book.SetCellValue("Sheet1", "A1", "Region")
	_ = book.SetCellValue("Sheet1", "B1", "Allowance")
	_ = book.SetCellValue("Sheet1", "A2", "EU")
	_ = book.SetCellValue("Sheet1", "B2", 120)
	if _, err := book.NewSheet("Notes"); err != nil {
		t.Fatalf("NewSheet() error = %v", err)
	}
	_ = book.SetCellValue("Notes", "A1", "Rates reviewed yearly")
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}

	got, err := NewRouter().Extract(context.Background(), "allowances.xlsx", buf.Bytes())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got.Pages) != 2 {
		t.Fatalf("expected one page per sheet, got %d", len(got.Pages))
	}
	if !strings.Contains(got.Pages[0], "EU\t120") {
		t.Fatalf("sheet 1 = %q", got.Pages[0])
	}
	if !strings.Contains(got.Pages[1], "Rates reviewed yearly") {
		t.Fatalf("sheet 2 = %q", got.Pages[1])
	}
}
