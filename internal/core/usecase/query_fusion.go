package usecase

import (
	"math"
	"sort"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

const defaultRRFConstant = 60

type FusionWeights struct {
	Dense  float64
	Sparse float64
}

func (w FusionWeights) normalize() FusionWeights {
	if w.Dense < 0 || w.Sparse < 0 || w.Dense+w.Sparse == 0 {
		return FusionWeights{Dense: 0.5, Sparse: 0.5}
	}
	return w
}

// fuseRRF merges dense and sparse hits with weighted reciprocal rank fusion.
// Ranks are 1-based and computed after hits missing from chunks are dropped.
// A chunk absent from a list contributes nothing for that list.
func fuseRRF(
	dense, sparse []domain.ScoredChunk,
	chunks map[string]domain.Chunk,
	weights FusionWeights,
	rrfK int,
) []domain.Candidate {
	if rrfK <= 0 {
		rrfK = defaultRRFConstant
	}
	weights = weights.normalize()

	acc := make(map[string]*domain.Candidate, len(dense)+len(sparse))
	addList := func(hits []domain.ScoredChunk, weight float64, dense bool) {
		rank := 0
		seen := make(map[string]struct{}, len(hits))
		for _, hit := range hits {
			chunk, ok := chunks[hit.ChunkID]
			if !ok {
				continue
			}
			if _, dup := seen[hit.ChunkID]; dup {
				continue
			}
			seen[hit.ChunkID] = struct{}{}
			rank++

			candidate, ok := acc[hit.ChunkID]
			if !ok {
				candidate = &domain.Candidate{Chunk: chunk}
				acc[hit.ChunkID] = candidate
			}
			if dense {
				candidate.DenseScore = hit.Score
				candidate.DenseRank = rank
			} else {
				candidate.SparseScore = hit.Score
				candidate.SparseRank = rank
			}
			candidate.FusedScore += weight / float64(rank+rrfK)
		}
	}

	addList(dense, weights.Dense, true)
	addList(sparse, weights.Sparse, false)

	out := make([]domain.Candidate, 0, len(acc))
	for _, c := range acc {
		out = append(out, *c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		ri, rj := rawScore(out[i]), rawScore(out[j])
		if ri != rj {
			return ri > rj
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})

	return out
}

func rawScore(c domain.Candidate) float64 {
	score := math.Inf(-1)
	if c.DenseRank > 0 {
		score = c.DenseScore
	}
	if c.SparseRank > 0 && c.SparseScore > score {
		score = c.SparseScore
	}
	return score
}

func trimCandidates(candidates []domain.Candidate, limit int) []domain.Candidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

func candidateIDs(hits ...[]domain.ScoredChunk) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range hits {
		for _, hit := range list {
			if _, ok := seen[hit.ChunkID]; ok {
				continue
			}
			seen[hit.ChunkID] = struct{}{}
			out = append(out, hit.ChunkID)
		}
	}
	return out
}
