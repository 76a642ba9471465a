package ollama

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

// Judge asks the model for one supported/unsupported verdict per claim. All
// claims of an answer share the same context, so they go in a single call.
type Judge struct {
	client *Client
}

func NewJudge(client *Client) *Judge {
	return &Judge{client: client}
}

func (j *Judge) Judge(ctx context.Context, checks []domain.ClaimCheck) ([]bool, error) {
	if len(checks) == 0 {
		return nil, nil
	}
	raw, err := j.client.generateJSON(ctx, j.client.judgeModel, judgeSystemPrompt, buildJudgePrompt(checks))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Verdicts []bool `json:"verdicts"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse judge json: %w", err)
	}
	if len(parsed.Verdicts) != len(checks) {
		return nil, fmt.Errorf("judge returned %d verdicts for %d claims", len(parsed.Verdicts), len(checks))
	}
	return parsed.Verdicts, nil
}

// RelevanceScorer is a model-backed cross-scorer for reranking.
type RelevanceScorer struct {
	client *Client
}

func NewRelevanceScorer(client *Client) *RelevanceScorer {
	return &RelevanceScorer{client: client}
}

func (s *RelevanceScorer) Score(ctx context.Context, query string, candidates []domain.Candidate) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	raw, err := s.client.generateJSON(ctx, s.client.judgeModel, rerankSystemPrompt, buildRerankPrompt(query, candidates))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse rerank json: %w", err)
	}
	return parsed.Scores, nil
}
