package chunking

import (
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

const pageSeparator = "\n\n"

// Boundary levels, strongest first.
const (
	levelParagraph = iota
	levelLine
	levelSentence
	levelWord
)

type boundary struct {
	pos   int
	level int
}

type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

// Split cuts the document into chunks of at most ChunkSize runes. Each chunk
// after the first starts Overlap runes before the end of its predecessor, or
// earlier when a sentence boundary lies close before that point. Chunk text is
// always the exact rune range named by its span.
func (s *Splitter) Split(text domain.ExtractedText) ([]domain.Chunk, error) {
	runes, pageStarts := joinPages(text.Pages)
	if strings.TrimSpace(string(runes)) == "" {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "split text", errors.New("no text content"))
	}

	n := len(runes)
	for n > 0 && unicode.IsSpace(runes[n-1]) {
		n--
	}
	runes = runes[:n]
	bounds := findBoundaries(runes)
	out := make([]domain.Chunk, 0, n/(s.ChunkSize-s.Overlap)+1)

	start := skipSpace(runes, 0)
	for start < n {
		end := n
		if n-start > s.ChunkSize {
			end = s.chunkEnd(bounds, start)
		}

		out = append(out, domain.Chunk{
			Index: len(out),
			Text:  string(runes[start:end]),
			Span: domain.Span{
				Start:     start,
				End:       end,
				PageStart: pageOf(pageStarts, start),
				PageEnd:   pageOf(pageStarts, end-1),
			},
		})
		if end == n {
			break
		}
		start = s.nextStart(bounds, start, end)
	}
	return out, nil
}

// chunkEnd picks the split point for a chunk starting at start. The window
// excludes the first Overlap runes so the next start always advances.
func (s *Splitter) chunkEnd(bounds []boundary, start int) int {
	lo := start + s.Overlap + 1
	hi := start + s.ChunkSize
	half := start + s.ChunkSize/2

	first := sort.Search(len(bounds), func(i int) bool { return bounds[i].pos >= lo })
	last := sort.Search(len(bounds), func(i int) bool { return bounds[i].pos > hi }) - 1
	if first > last {
		return hi
	}

	best := [levelWord + 1]int{-1, -1, -1, -1}
	for i := last; i >= first; i-- {
		b := bounds[i]
		if best[b.level] < 0 {
			best[b.level] = b.pos
		}
	}
	for level := levelParagraph; level <= levelWord; level++ {
		if best[level] >= half {
			return best[level]
		}
	}
	return bounds[last].pos
}

func (s *Splitter) nextStart(bounds []boundary, prevStart, end int) int {
	target := end - s.Overlap
	floor := target - s.Overlap/2
	if floor <= prevStart {
		floor = prevStart + 1
	}

	i := sort.Search(len(bounds), func(i int) bool { return bounds[i].pos > target }) - 1
	for ; i >= 0 && bounds[i].pos >= floor; i-- {
		if bounds[i].level <= levelSentence {
			return bounds[i].pos
		}
	}
	return target
}

func joinPages(pages []string) ([]rune, []int) {
	var runes []rune
	starts := make([]int, 0, len(pages))
	for i, page := range pages {
		if i > 0 {
			runes = append(runes, []rune(pageSeparator)...)
		}
		starts = append(starts, len(runes))
		runes = append(runes, []rune(page)...)
	}
	return runes, starts
}

// findBoundaries returns split positions sorted ascending. A position is the
// index of the first rune of the following unit.
func findBoundaries(runes []rune) []boundary {
	out := make([]boundary, 0, len(runes)/16)
	for i := 0; i < len(runes)-1; i++ {
		r := runes[i]
		next := runes[i+1]

		level := -1
		switch {
		case r == '\n' && next == '\n':
			level = levelParagraph
		case r == '\n':
			level = levelLine
		case isSentenceEnd(r) && unicode.IsSpace(next):
			level = levelSentence
		case unicode.IsSpace(r) && !unicode.IsSpace(next):
			level = levelWord
		}
		if level < 0 {
			continue
		}

		pos := skipSpace(runes, i+1)
		if pos >= len(runes) {
			break
		}
		if n := len(out); n > 0 && out[n-1].pos == pos {
			if level < out[n-1].level {
				out[n-1].level = level
			}
			continue
		}
		out = append(out, boundary{pos: pos, level: level})
	}
	return out
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	default:
		return false
	}
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}

func pageOf(starts []int, pos int) int {
	idx := sort.Search(len(starts), func(i int) bool { return starts[i] > pos })
	if idx == 0 {
		return 1
	}
	return idx
}
