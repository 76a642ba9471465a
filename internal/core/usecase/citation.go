package usecase

import (
	"fmt"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

// bindCitations produces exactly one citation per context chunk, in context
// order. Citations describe what the generator was shown, not what it quoted.
func bindCitations(shown []domain.Chunk) []domain.Citation {
	out := make([]domain.Citation, 0, len(shown))
	seen := make(map[string]struct{}, len(shown))
	for _, chunk := range shown {
		if _, dup := seen[chunk.ID]; dup {
			continue
		}
		seen[chunk.ID] = struct{}{}
		out = append(out, domain.Citation{
			DocumentID: chunk.DocumentID,
			Filename:   chunk.Filename,
			ChunkID:    chunk.ID,
			Page:       chunk.Span.PageStart,
			PageEnd:    chunk.Span.PageEnd,
			Start:      chunk.Span.Start,
			End:        chunk.Span.End,
			Label:      citationLabel(chunk.Span),
		})
	}
	return out
}

func citationLabel(span domain.Span) string {
	pages := fmt.Sprintf("page %d", span.PageStart)
	if span.PageEnd > span.PageStart {
		pages = fmt.Sprintf("pages %d-%d", span.PageStart, span.PageEnd)
	}
	return fmt.Sprintf("%s, chars %d-%d", pages, span.Start, span.End)
}

// contextChunks returns the chunks of candidates in order without duplicates.
func contextChunks(candidates []domain.Candidate) []domain.Chunk {
	out := make([]domain.Chunk, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.Chunk.ID]; dup {
			continue
		}
		seen[c.Chunk.ID] = struct{}{}
		out = append(out, c.Chunk)
	}
	return out
}
