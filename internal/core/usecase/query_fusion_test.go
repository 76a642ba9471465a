package usecase

import (
	"math"
	"testing"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

func chunkMap(ids ...string) map[string]domain.Chunk {
	out := make(map[string]domain.Chunk, len(ids))
	for _, id := range ids {
		out[id] = domain.Chunk{ID: id, DocumentID: "doc", Text: id}
	}
	return out
}

func TestFuseRRFDeduplicatesByChunkID(t *testing.T) {
	dense := []domain.ScoredChunk{{ChunkID: "c1", Score: 0.9}, {ChunkID: "c2", Score: 0.8}}
	sparse := []domain.ScoredChunk{{ChunkID: "c2", Score: 7.5}, {ChunkID: "c3", Score: 3.1}}

	fused := fuseRRF(dense, sparse, chunkMap("c1", "c2", "c3"), FusionWeights{Dense: 0.5, Sparse: 0.5}, 60)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused candidates, got %d", len(fused))
	}
	if fused[0].Chunk.ID != "c2" {
		t.Fatalf("expected c2 first after RRF fusion, got %s", fused[0].Chunk.ID)
	}
	want := 0.5/62.0 + 0.5/61.0
	if math.Abs(fused[0].FusedScore-want) > 1e-12 {
		t.Fatalf("fused score = %f, want %f", fused[0].FusedScore, want)
	}
	if fused[0].DenseRank != 2 || fused[0].SparseRank != 1 {
		t.Fatalf("unexpected ranks: dense=%d sparse=%d", fused[0].DenseRank, fused[0].SparseRank)
	}
}

func TestFuseRRFChunkInBothListsOutranksSingleList(t *testing.T) {
	dense := []domain.ScoredChunk{{ChunkID: "only-dense", Score: 0.99}, {ChunkID: "both", Score: 0.5}}
	sparse := []domain.ScoredChunk{{ChunkID: "only-sparse", Score: 12}, {ChunkID: "both", Score: 1}}

	fused := fuseRRF(dense, sparse, chunkMap("only-dense", "only-sparse", "both"), FusionWeights{}, 60)
	if fused[0].Chunk.ID != "both" {
		t.Fatalf("expected chunk present in both lists first, got %s", fused[0].Chunk.ID)
	}
}

func TestFuseRRFIsIndependentOfListArgumentOrderForEqualWeights(t *testing.T) {
	a := []domain.ScoredChunk{{ChunkID: "x", Score: 0.7}, {ChunkID: "y", Score: 0.6}}
	b := []domain.ScoredChunk{{ChunkID: "y", Score: 0.7}, {ChunkID: "z", Score: 0.6}}
	chunks := chunkMap("x", "y", "z")

	ab := fuseRRF(a, b, chunks, FusionWeights{Dense: 0.5, Sparse: 0.5}, 60)
	ba := fuseRRF(b, a, chunks, FusionWeights{Dense: 0.5, Sparse: 0.5}, 60)
	for i := range ab {
		if ab[i].Chunk.ID != ba[i].Chunk.ID {
			t.Fatalf("position %d differs: %s vs %s", i, ab[i].Chunk.ID, ba[i].Chunk.ID)
		}
	}
}

func TestFuseRRFTieBreaksByRawScoreThenChunkID(t *testing.T) {
	dense := []domain.ScoredChunk{{ChunkID: "b", Score: 0.4}}
	sparse := []domain.ScoredChunk{{ChunkID: "a", Score: 0.9}}

	fused := fuseRRF(dense, sparse, chunkMap("a", "b"), FusionWeights{}, 60)
	if fused[0].Chunk.ID != "a" {
		t.Fatalf("expected higher raw score first, got %s", fused[0].Chunk.ID)
	}

	dense = []domain.ScoredChunk{{ChunkID: "d", Score: 0.5}}
	sparse = []domain.ScoredChunk{{ChunkID: "c", Score: 0.5}}
	fused = fuseRRF(dense, sparse, chunkMap("c", "d"), FusionWeights{}, 60)
	if fused[0].Chunk.ID != "c" {
		t.Fatalf("expected tie-break by chunk id, got %s", fused[0].Chunk.ID)
	}
}

func TestFuseRRFDropsUnknownChunksBeforeRanking(t *testing.T) {
	dense := []domain.ScoredChunk{{ChunkID: "stale", Score: 0.99}, {ChunkID: "fresh", Score: 0.5}}

	fused := fuseRRF(dense, nil, chunkMap("fresh"), FusionWeights{}, 60)
	if len(fused) != 1 || fused[0].Chunk.ID != "fresh" {
		t.Fatalf("expected only fresh chunk, got %+v", fused)
	}
	if fused[0].DenseRank != 1 {
		t.Fatalf("expected fresh chunk to take rank 1, got %d", fused[0].DenseRank)
	}
}

func TestFuseRRFAppliesWeights(t *testing.T) {
	dense := []domain.ScoredChunk{{ChunkID: "d", Score: 0.9}}
	sparse := []domain.ScoredChunk{{ChunkID: "s", Score: 5}}

	fused := fuseRRF(dense, sparse, chunkMap("d", "s"), FusionWeights{Dense: 0.2, Sparse: 0.8}, 60)
	if fused[0].Chunk.ID != "s" {
		t.Fatalf("expected sparse-weighted chunk first, got %s", fused[0].Chunk.ID)
	}
}
