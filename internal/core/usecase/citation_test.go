package usecase

import (
	"testing"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

func TestBindCitationsOnePerContextChunkInOrder(t *testing.T) {
	ctx := []domain.Chunk{
		{ID: "d1-00002", DocumentID: "d1", Filename: "policy.pdf", Span: domain.Span{Start: 1800, End: 2700, PageStart: 2, PageEnd: 3}},
		{ID: "d2-00000", DocumentID: "d2", Filename: "faq.txt", Span: domain.Span{Start: 0, End: 68, PageStart: 1, PageEnd: 1}},
		{ID: "d1-00002", DocumentID: "d1", Filename: "policy.pdf", Span: domain.Span{Start: 1800, End: 2700, PageStart: 2, PageEnd: 3}},
	}

	got := bindCitations(ctx)
	if len(got) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(got))
	}
	if got[0].ChunkID != "d1-00002" || got[1].ChunkID != "d2-00000" {
		t.Fatalf("unexpected citation order: %+v", got)
	}
	if got[0].Label != "pages 2-3, chars 1800-2700" {
		t.Fatalf("unexpected label %q", got[0].Label)
	}
	if got[1].Label != "page 1, chars 0-68" || got[1].Filename != "faq.txt" {
		t.Fatalf("unexpected citation %+v", got[1])
	}
}

func TestBindCitationsEmptyContext(t *testing.T) {
	if got := bindCitations(nil); len(got) != 0 {
		t.Fatalf("expected no citations, got %+v", got)
	}
}
