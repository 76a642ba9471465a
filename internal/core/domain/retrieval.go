package domain

import "time"

// ScoredChunk is a raw hit from a single retrieval path.
type ScoredChunk struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// Candidate is a chunk under consideration for one request. A zero rank
// means the chunk was absent from that list.
type Candidate struct {
	Chunk       Chunk   `json:"chunk"`
	DenseScore  float64 `json:"dense_score"`
	DenseRank   int     `json:"dense_rank"`
	SparseScore float64 `json:"sparse_score"`
	SparseRank  int     `json:"sparse_rank"`
	FusedScore  float64 `json:"fused_score"`
	RerankScore float64 `json:"rerank_score"`
}

type Citation struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkID    string `json:"chunk_id"`
	Page       int    `json:"page"`
	PageEnd    int    `json:"page_end"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Label      string `json:"label"`
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// Degraded paths recorded on an answer.
const (
	DegradedDense  = "dense_unavailable"
	DegradedSparse = "sparse_unavailable"
	DegradedRerank = "rerank_fallback"
	DegradedJudge  = "judge_unavailable"
)

type GroundedAnswer struct {
	Text              string     `json:"text"`
	Citations         []Citation `json:"citations"`
	Confidence        Confidence `json:"confidence"`
	Faithfulness      float64    `json:"faithfulness"`
	Judged            bool       `json:"judged"`
	Hedge             string     `json:"hedge,omitempty"`
	NoRelevantContent bool       `json:"no_relevant_content,omitempty"`
	SessionID         string     `json:"session_id"`
	Degradations      []string   `json:"degradations,omitempty"`
}

// ClaimCheck pairs an atomic answer claim with the context it must be grounded in.
type ClaimCheck struct {
	Claim   string
	Context []string
}

// Turn is one completed question/answer exchange in a session.
type Turn struct {
	Query      string     `json:"query"`
	Answer     string     `json:"answer"`
	ChunkIDs   []string   `json:"chunk_ids"`
	Confidence Confidence `json:"confidence"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Size is the character budget a turn occupies in session memory.
func (t Turn) Size() int {
	return len([]rune(t.Query)) + len([]rune(t.Answer))
}
