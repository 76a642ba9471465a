// Package bm25 is an in-process inverted index ranked with Okapi BM25.
//
// Writers are serialized and build a new snapshot for every change; readers
// load the current snapshot atomically and never observe a document that is
// only partially indexed.
package bm25

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

const (
	DefaultK1 = 1.5
	DefaultB  = 0.75

	// Tombstones are compacted once they make up this share of all entries.
	compactRatio = 0.25
)

type posting struct {
	ord int32
	tf  uint32
}

type entry struct {
	chunkID string
	docID   string
	length  int
	dead    bool
}

type snapshot struct {
	entries  []entry
	postings map[string][]posting
	docs     map[string][]int32
	live     int
	totalLen int
}

func emptySnapshot() *snapshot {
	return &snapshot{
		postings: map[string][]posting{},
		docs:     map[string][]int32{},
	}
}

type Index struct {
	k1 float64
	b  float64

	mu      sync.Mutex
	current atomic.Pointer[snapshot]
}

func New(k1, b float64) *Index {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b < 0 || b > 1 {
		b = DefaultB
	}
	idx := &Index{k1: k1, b: b}
	idx.current.Store(emptySnapshot())
	return idx
}

// IndexDocument replaces every posting of documentID with postings for chunks.
func (i *Index) IndexDocument(documentID string, chunks []domain.Chunk) {
	i.mu.Lock()
	defer i.mu.Unlock()

	next := i.current.Load().clone()
	next.tombstone(documentID)
	for _, c := range chunks {
		next.add(documentID, c)
	}
	i.publish(next)
}

// Rebuild replaces the whole index with chunks, grouped by their document,
// and publishes a single snapshot. Chunks keep their input order.
func (i *Index) Rebuild(chunks []domain.Chunk) {
	next := emptySnapshot()
	next.entries = make([]entry, 0, len(chunks))
	for _, c := range chunks {
		next.add(c.DocumentID, c)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.current.Store(next)
}

// Remove tombstones all chunks of documentID.
func (i *Index) Remove(documentID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	cur := i.current.Load()
	if _, ok := cur.docs[documentID]; !ok {
		return
	}
	next := cur.clone()
	next.tombstone(documentID)
	i.publish(next)
}

// Compact drops tombstoned entries immediately.
func (i *Index) Compact() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.current.Store(i.current.Load().compact())
}

// Len returns the number of searchable chunks.
func (i *Index) Len() int {
	return i.current.Load().live
}

func (i *Index) Search(ctx context.Context, query string, limit int) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return i.SearchTerms(Tokenize(query), limit), nil
}

// SearchTerms ranks chunks against already tokenized query terms. Ties are
// broken by ascending chunk id.
func (i *Index) SearchTerms(terms []string, limit int) []domain.ScoredChunk {
	snap := i.current.Load()
	if snap.live == 0 || len(terms) == 0 {
		return nil
	}

	n := float64(snap.live)
	avgLen := float64(snap.totalLen) / n
	scores := make(map[int32]float64)

	for _, term := range uniqueTerms(terms) {
		list := snap.postings[term]
		df := 0
		for _, p := range list {
			if !snap.entries[p.ord].dead {
				df++
			}
		}
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		for _, p := range list {
			e := snap.entries[p.ord]
			if e.dead {
				continue
			}
			tf := float64(p.tf)
			norm := i.k1 * (1 - i.b + i.b*float64(e.length)/avgLen)
			scores[p.ord] += idf * tf * (i.k1 + 1) / (tf + norm)
		}
	}

	out := make([]domain.ScoredChunk, 0, len(scores))
	for ord, score := range scores {
		out = append(out, domain.ScoredChunk{ChunkID: snap.entries[ord].chunkID, Score: score})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].ChunkID < out[b].ChunkID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (i *Index) publish(next *snapshot) {
	dead := len(next.entries) - next.live
	if dead > 0 && float64(dead) >= compactRatio*float64(len(next.entries)) {
		next = next.compact()
	}
	i.current.Store(next)
}

// clone copies the containers a writer mutates. Posting slices are shared and
// replaced, never appended to in place.
func (s *snapshot) clone() *snapshot {
	out := &snapshot{
		entries:  make([]entry, len(s.entries), len(s.entries)+16),
		postings: make(map[string][]posting, len(s.postings)),
		docs:     make(map[string][]int32, len(s.docs)),
		live:     s.live,
		totalLen: s.totalLen,
	}
	copy(out.entries, s.entries)
	for term, list := range s.postings {
		out.postings[term] = list
	}
	for doc, ords := range s.docs {
		out.docs[doc] = ords
	}
	return out
}

func (s *snapshot) add(documentID string, chunk domain.Chunk) {
	terms := Tokenize(chunk.Text)
	ord := int32(len(s.entries))
	s.entries = append(s.entries, entry{
		chunkID: chunk.ID,
		docID:   documentID,
		length:  len(terms),
	})
	s.live++
	s.totalLen += len(terms)

	ords := s.docs[documentID]
	s.docs[documentID] = append(ords[:len(ords):len(ords)], ord)

	tf := make(map[string]uint32, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	for term, freq := range tf {
		list := s.postings[term]
		s.postings[term] = append(list[:len(list):len(list)], posting{ord: ord, tf: freq})
	}
}

func (s *snapshot) tombstone(documentID string) {
	for _, ord := range s.docs[documentID] {
		e := &s.entries[ord]
		if e.dead {
			continue
		}
		e.dead = true
		s.live--
		s.totalLen -= e.length
	}
	delete(s.docs, documentID)
}

func (s *snapshot) compact() *snapshot {
	out := emptySnapshot()
	remap := make([]int32, len(s.entries))
	for ord, e := range s.entries {
		if e.dead {
			remap[ord] = -1
			continue
		}
		next := int32(len(out.entries))
		remap[ord] = next
		out.entries = append(out.entries, e)
		out.docs[e.docID] = append(out.docs[e.docID], next)
		out.live++
		out.totalLen += e.length
	}
	for term, list := range s.postings {
		kept := make([]posting, 0, len(list))
		for _, p := range list {
			if to := remap[p.ord]; to >= 0 {
				kept = append(kept, posting{ord: to, tf: p.tf})
			}
		}
		if len(kept) > 0 {
			out.postings[term] = kept
		}
	}
	return out
}
