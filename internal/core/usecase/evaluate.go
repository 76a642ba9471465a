package usecase

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

// EvaluateUseCase replays reference questions through the answer pipeline.
type EvaluateUseCase struct {
	answers     ports.DocumentQueryService
	chunks      ports.ChunkStore
	relevance   ports.RelevanceScorer
	concurrency int
}

func NewEvaluateUseCase(answers ports.DocumentQueryService, chunks ports.ChunkStore, concurrency int) *EvaluateUseCase {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &EvaluateUseCase{answers: answers, chunks: chunks, concurrency: concurrency}
}

// WithRelevanceScorer rates answer relevancy with scorer on its 0..10 scale
// instead of question term coverage.
func (uc *EvaluateUseCase) WithRelevanceScorer(scorer ports.RelevanceScorer) *EvaluateUseCase {
	uc.relevance = scorer
	return uc
}

// Evaluate answers every case in its own session. A failing case is recorded
// in the report and does not stop the run.
func (uc *EvaluateUseCase) Evaluate(ctx context.Context, cases []domain.EvalCase) (*domain.EvalReport, error) {
	if len(cases) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "evaluate", errors.New("no evaluation cases"))
	}
	results := make([]domain.EvalResult, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.concurrency)
	for i, c := range cases {
		g.Go(func() error {
			results[i] = uc.evaluateCase(gctx, c)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &domain.EvalReport{
		Cases:      len(cases),
		Confidence: map[domain.Confidence]int{},
		Results:    results,
	}
	var faithSum, relevancySum, recallSum float64
	for _, r := range results {
		if r.Error != "" {
			report.Failed++
			continue
		}
		faithSum += r.Faithfulness
		relevancySum += r.AnswerRelevancy
		recallSum += r.ContextRecall
		report.Confidence[r.Confidence]++
	}
	if ok := report.Cases - report.Failed; ok > 0 {
		report.MeanFaithfulness = round4(faithSum / float64(ok))
		report.MeanAnswerRelevancy = round4(relevancySum / float64(ok))
		report.MeanContextRecall = round4(recallSum / float64(ok))
	}
	slog.Info("evaluation_completed",
		"cases", report.Cases,
		"failed", report.Failed,
		"mean_faithfulness", report.MeanFaithfulness,
		"mean_answer_relevancy", report.MeanAnswerRelevancy,
		"mean_context_recall", report.MeanContextRecall,
	)
	return report, nil
}

func (uc *EvaluateUseCase) evaluateCase(ctx context.Context, c domain.EvalCase) domain.EvalResult {
	result := domain.EvalResult{Question: c.Question}
	sessionID := "eval-" + uuid.NewString()
	defer func() {
		_ = uc.answers.ClearSession(context.WithoutCancel(ctx), sessionID)
	}()

	answer, err := uc.answers.Answer(ctx, c.Question, sessionID)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Answer = answer.Text
	result.Confidence = answer.Confidence
	result.Faithfulness = answer.Faithfulness
	result.Citations = len(answer.Citations)
	result.AnswerRelevancy = uc.answerRelevancy(ctx, c.Question, answer.Text)

	recall, err := uc.contextRecall(ctx, c.GroundTruth, answer.Citations)
	if err != nil {
		slog.Warn("evaluation_context_unavailable", "question", c.Question, "error", err)
	}
	result.ContextRecall = recall
	return result
}

// contextRecall is the share of ground-truth content terms found in the
// cited chunks.
func (uc *EvaluateUseCase) contextRecall(ctx context.Context, groundTruth string, citations []domain.Citation) (float64, error) {
	terms := contentTerms(groundTruth)
	if len(terms) == 0 {
		return 1, nil
	}
	if len(citations) == 0 || uc.chunks == nil {
		return 0, nil
	}
	ids := make([]string, len(citations))
	for i, c := range citations {
		ids[i] = c.ChunkID
	}
	chunks, err := uc.chunks.GetChunks(ctx, ids)
	if err != nil {
		return 0, err
	}
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(chunks[id].Text)
		sb.WriteByte(' ')
	}
	present := toTokenSet(sb.String())

	found := 0
	for t := range terms {
		if _, ok := present[t]; ok {
			found++
		}
	}
	return round4(float64(found) / float64(len(terms))), nil
}

// answerRelevancy rates how well answer addresses question in [0, 1]. Without
// a scorer, or when it fails, it is the share of question content terms the
// answer repeats.
func (uc *EvaluateUseCase) answerRelevancy(ctx context.Context, question, answer string) float64 {
	if uc.relevance != nil {
		scores, err := uc.relevance.Score(ctx, question, []domain.Candidate{{Chunk: domain.Chunk{Text: answer}}})
		if err == nil && len(scores) == 1 && !math.IsNaN(scores[0]) {
			return round4(min(max(scores[0]/10, 0), 1))
		}
		slog.Warn("evaluation_relevancy_fallback", "question", question, "error", err)
	}
	terms := contentTerms(question)
	if len(terms) == 0 {
		return 1
	}
	present := toTokenSet(answer)
	found := 0
	for t := range terms {
		if _, ok := present[t]; ok {
			found++
		}
	}
	return round4(float64(found) / float64(len(terms)))
}

func contentTerms(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range splitAlphaNumLower(s) {
		if isSalient(t) || isNumber(t) {
			out[t] = struct{}{}
		}
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
