package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

func sampleDocument(sentences int) domain.ExtractedText {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "Sentence number %d talks about remote work policy and approvals. ", i)
		if i%7 == 6 {
			b.WriteString("\n\n")
		}
	}
	return domain.ExtractedText{Pages: []string{b.String()}}
}

func TestSplitIsDeterministic(t *testing.T) {
	splitter := NewSplitter(300, 60)
	doc := sampleDocument(80)

	first, err := splitter.Split(doc)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	second, err := splitter.Split(doc)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected same chunk count, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Span != second[i].Span || first[i].Text != second[i].Text {
			t.Fatalf("chunk %d differs between runs: %+v vs %+v", i, first[i].Span, second[i].Span)
		}
	}
}

func TestSplitConsecutiveChunksOverlap(t *testing.T) {
	const size, overlap = 300, 60
	splitter := NewSplitter(size, overlap)
	doc := sampleDocument(80)
	full := []rune(doc.Pages[0])

	chunks, err := splitter.Split(doc)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Fatalf("expected index %d, got %d", i, chunk.Index)
		}
		if n := len([]rune(chunk.Text)); n > size {
			t.Fatalf("chunk %d exceeds max size: %d", i, n)
		}
		if chunk.Text != string(full[chunk.Span.Start:chunk.Span.End]) {
			t.Fatalf("chunk %d text does not match its span", i)
		}
		if i == 0 {
			continue
		}
		prev := chunks[i-1]
		if chunk.Span.Start <= prev.Span.Start {
			t.Fatalf("chunk %d start %d does not advance past %d", i, chunk.Span.Start, prev.Span.Start)
		}
		if got := prev.Span.End - chunk.Span.Start; got < overlap {
			t.Fatalf("chunk %d overlaps previous by %d, want >= %d", i, got, overlap)
		}
	}
}

func TestSplitPrefersSentenceBoundaries(t *testing.T) {
	splitter := NewSplitter(300, 60)
	chunks, err := splitter.Split(sampleDocument(40))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	for i, chunk := range chunks[:len(chunks)-1] {
		trimmed := strings.TrimSpace(chunk.Text)
		if !strings.HasSuffix(trimmed, ".") {
			t.Fatalf("chunk %d should end on a sentence boundary, got %q", i, trimmed[len(trimmed)-20:])
		}
	}
}

func TestSplitHardCutsUnbrokenText(t *testing.T) {
	splitter := NewSplitter(1000, 200)
	chunks, err := splitter.Split(domain.ExtractedText{Pages: []string{strings.Repeat("a", 2500)}})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	want := []domain.Span{
		{Start: 0, End: 1000, PageStart: 1, PageEnd: 1},
		{Start: 800, End: 1800, PageStart: 1, PageEnd: 1},
		{Start: 1600, End: 2500, PageStart: 1, PageEnd: 1},
	}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i := range want {
		if chunks[i].Span != want[i] {
			t.Fatalf("chunk %d span = %+v, want %+v", i, chunks[i].Span, want[i])
		}
	}
}

func TestSplitShortDocumentIsSingleChunk(t *testing.T) {
	splitter := NewSplitter(1000, 200)
	chunks, err := splitter.Split(domain.ExtractedText{Pages: []string{"  Employees may work remotely up to 3 days per week.\n"}})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "Employees may work remotely up to 3 days per week." {
		t.Fatalf("unexpected chunk text %q", chunks[0].Text)
	}
	if chunks[0].Span.Start != 2 {
		t.Fatalf("expected span to skip leading whitespace, got %d", chunks[0].Span.Start)
	}
}

func TestSplitTracksPages(t *testing.T) {
	splitter := NewSplitter(40, 10)
	chunks, err := splitter.Split(domain.ExtractedText{Pages: []string{
		"First page speaks about vacation days. It has two sentences.",
		"Second page covers remote work. Approval is required.",
	}})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if chunks[0].Span.PageStart != 1 {
		t.Fatalf("expected first chunk on page 1, got %d", chunks[0].Span.PageStart)
	}
	last := chunks[len(chunks)-1]
	if last.Span.PageEnd != 2 {
		t.Fatalf("expected last chunk on page 2, got %d", last.Span.PageEnd)
	}
	if !strings.Contains(last.Text, "Approval is required.") {
		t.Fatalf("expected last chunk to hold the document tail, got %q", last.Text)
	}
}

func TestSplitRejectsEmptyDocument(t *testing.T) {
	splitter := NewSplitter(1000, 200)
	for _, pages := range [][]string{nil, {""}, {"  \n\t ", "\n"}} {
		_, err := splitter.Split(domain.ExtractedText{Pages: pages})
		if !domain.IsKind(err, domain.ErrEmptyDocument) {
			t.Fatalf("expected ErrEmptyDocument for %q, got %v", pages, err)
		}
	}
}

func TestNewSplitterNormalizesOverlap(t *testing.T) {
	splitter := NewSplitter(100, 150)
	if splitter.Overlap != 25 {
		t.Fatalf("expected overlap clamp to 25, got %d", splitter.Overlap)
	}
	splitter = NewSplitter(0, -1)
	if splitter.ChunkSize != 1000 || splitter.Overlap != 0 {
		t.Fatalf("unexpected defaults: %+v", splitter)
	}
}
