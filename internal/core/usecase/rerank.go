package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

const (
	defaultRerankTopN    = 20
	defaultRerankTopK    = 4
	defaultRerankTimeout = 3 * time.Second
)

var errMalformedScores = errors.New("relevance scorer returned malformed scores")

type Reranker struct {
	scorer  ports.RelevanceScorer
	topN    int
	topK    int
	timeout time.Duration
}

// NewReranker builds a re-ranker. A nil scorer disables re-ranking and the
// fused order passes through.
func NewReranker(scorer ports.RelevanceScorer, topN, topK int, timeout time.Duration) *Reranker {
	if topN <= 0 {
		topN = defaultRerankTopN
	}
	if topK <= 0 {
		topK = defaultRerankTopK
	}
	if topK > topN {
		topK = topN
	}
	if timeout <= 0 {
		timeout = defaultRerankTimeout
	}
	return &Reranker{scorer: scorer, topN: topN, topK: topK, timeout: timeout}
}

// Rerank scores the first topN fused candidates and returns the best topK.
// When scoring fails the fused list is returned unchanged together with the
// scoring error.
func (r *Reranker) Rerank(ctx context.Context, query string, fused []domain.Candidate) ([]domain.Candidate, error) {
	if r.scorer == nil || len(fused) == 0 {
		return fused, nil
	}

	head := make([]domain.Candidate, min(r.topN, len(fused)))
	copy(head, fused)

	scoreCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	scores, err := r.scorer.Score(scoreCtx, query, head)
	if err != nil {
		return fused, fmt.Errorf("score candidates: %w", err)
	}
	if len(scores) != len(head) {
		return fused, fmt.Errorf("%w: %d scores for %d candidates", errMalformedScores, len(scores), len(head))
	}

	for i := range head {
		head[i].RerankScore = scores[i]
	}
	sort.SliceStable(head, func(i, j int) bool {
		return head[i].RerankScore > head[j].RerankScore
	})
	return trimCandidates(head, r.topK), nil
}

// LexicalScorer blends the fused score with query token overlap and a
// filename hit. It runs in process and never fails.
type LexicalScorer struct{}

func (LexicalScorer) Score(_ context.Context, query string, candidates []domain.Candidate) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	queryTokens := toTokenSet(query)

	minScore := candidates[0].FusedScore
	maxScore := candidates[0].FusedScore
	for _, c := range candidates[1:] {
		minScore = min(minScore, c.FusedScore)
		maxScore = max(maxScore, c.FusedScore)
	}

	rangeScore := maxScore - minScore
	normalize := func(v float64) float64 {
		if rangeScore <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - minScore) / rangeScore
	}

	out := make([]float64, len(candidates))
	for i, c := range candidates {
		overlap := tokenOverlap(queryTokens, toTokenSet(c.Chunk.Text))
		filenameBoost := filenameTokenHit(queryTokens, c.Chunk.Filename)
		out[i] = 0.60*normalize(c.FusedScore) + 0.30*overlap + 0.10*filenameBoost
	}
	return out, nil
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func filenameTokenHit(query map[string]struct{}, filename string) float64 {
	if len(query) == 0 || filename == "" {
		return 0
	}
	filename = strings.ToLower(filename)
	for token := range query {
		if len(token) < 3 {
			continue
		}
		if strings.Contains(filename, token) {
			return 1
		}
	}
	return 0
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
