package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

const insufficientInformation = "I don't have enough information in the provided documents to answer that."

var tracer = otel.Tracer("github.com/kirillkom/grounded-qa/internal/core/usecase")

type QueryState string

const (
	StateReceived   QueryState = "received"
	StateExpanded   QueryState = "expanded"
	StateRetrieving QueryState = "retrieving"
	StateFused      QueryState = "fused"
	StateReranked   QueryState = "reranked"
	StateBound      QueryState = "bound"
	StateGenerating QueryState = "generating"
	StateGrounded   QueryState = "grounded"
	StateCompleted  QueryState = "completed"
)

type QueryOptions struct {
	DenseTopK         int
	SparseTopK        int
	ContextTopK       int
	RRFConstant       int
	Weights           FusionWeights
	RetrievalTimeout  time.Duration
	GenerationTimeout time.Duration
}

func (o QueryOptions) normalize() QueryOptions {
	if o.DenseTopK <= 0 {
		o.DenseTopK = 20
	}
	if o.SparseTopK <= 0 {
		o.SparseTopK = 20
	}
	if o.ContextTopK <= 0 {
		o.ContextTopK = defaultRerankTopK
	}
	if o.RRFConstant <= 0 {
		o.RRFConstant = defaultRRFConstant
	}
	o.Weights = o.Weights.normalize()
	if o.RetrievalTimeout <= 0 {
		o.RetrievalTimeout = 5 * time.Second
	}
	if o.GenerationTimeout <= 0 {
		o.GenerationTimeout = 90 * time.Second
	}
	return o
}

type QueryDependencies struct {
	Embedder  ports.Embedder
	VectorDB  ports.VectorStore
	Sparse    ports.SparseIndex
	Chunks    ports.ChunkStore
	Generator ports.AnswerGenerator
	Reranker  *Reranker
	Gate      *GroundingGate
	Sessions  ports.SessionStore
	Observer  ports.PipelineObserver
}

type QueryUseCase struct {
	embedder  ports.Embedder
	vectorDB  ports.VectorStore
	sparse    ports.SparseIndex
	chunks    ports.ChunkStore
	generator ports.AnswerGenerator
	reranker  *Reranker
	gate      *GroundingGate
	sessions  ports.SessionStore
	expander  *QueryExpander
	observer  ports.PipelineObserver
	opts      QueryOptions
}

func NewQueryUseCase(deps QueryDependencies, opts QueryOptions) *QueryUseCase {
	opts = opts.normalize()
	if deps.Reranker == nil {
		deps.Reranker = NewReranker(nil, 0, opts.ContextTopK, 0)
	}
	if deps.Gate == nil {
		deps.Gate = NewGroundingGate(nil, GroundingThresholds{}, 0)
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &QueryUseCase{
		embedder:  deps.Embedder,
		vectorDB:  deps.VectorDB,
		sparse:    deps.Sparse,
		chunks:    deps.Chunks,
		generator: deps.Generator,
		reranker:  deps.Reranker,
		gate:      deps.Gate,
		sessions:  deps.Sessions,
		expander:  NewQueryExpander(deps.Sessions),
		observer:  deps.Observer,
		opts:      opts,
	}
}

// Answer runs the full retrieval and grounding pipeline for one question.
// Degraded paths are recorded on the answer; only total retrieval failure or
// a generation failure is returned as an error.
func (uc *QueryUseCase) Answer(ctx context.Context, question, sessionID string) (*domain.GroundedAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("question is required"))
	}
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}

	ctx, span := tracer.Start(ctx, "query.answer", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()
	run := newPipelineRun(ctx, sessionID, uc.observer)

	answer, err := uc.answer(run, question)
	run.finish(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("answer.confidence", string(answer.Confidence)),
		attribute.Int("answer.citations", len(answer.Citations)),
	)
	return answer, nil
}

func (uc *QueryUseCase) answer(run *pipelineRun, question string) (*domain.GroundedAnswer, error) {
	ctx := run.advance(StateExpanded)
	expanded := uc.expander.ExpandQuery(run.sessionID, question)
	if expanded != question {
		slog.DebugContext(ctx, "query_expanded", "session_id", run.sessionID, "query", expanded)
	}

	ctx = run.advance(StateRetrieving)
	dense, sparse, err := uc.retrieve(ctx, run, expanded)
	if err != nil {
		return nil, err
	}
	chunks, err := uc.chunks.GetChunks(ctx, candidateIDs(dense, sparse))
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "hydrate chunks", err)
	}

	run.advance(StateFused)
	fused := fuseRRF(dense, sparse, chunks, uc.opts.Weights, uc.opts.RRFConstant)
	if len(fused) == 0 {
		return uc.complete(run, question, noContentAnswer(run)), nil
	}

	ctx = run.advance(StateReranked)
	reranked, err := uc.reranker.Rerank(ctx, expanded, fused)
	if err != nil {
		run.degrade(domain.DegradedRerank, err)
	}
	shown := contextChunks(trimCandidates(reranked, uc.opts.ContextTopK))

	run.advance(StateBound)
	citations := bindCitations(shown)

	ctx = run.advance(StateGenerating)
	text, err := uc.generate(ctx, run.sessionID, question, shown)
	if err != nil {
		return nil, err
	}

	ctx = run.advance(StateGrounded)
	grounding, err := uc.gate.Score(ctx, text, shown)
	if err != nil {
		run.degrade(domain.DegradedJudge, err)
	}

	answer := &domain.GroundedAnswer{
		Text:         text,
		Citations:    citations,
		Confidence:   grounding.Confidence,
		Faithfulness: grounding.Faithfulness,
		Judged:       grounding.Judged,
		SessionID:    run.sessionID,
		Degradations: run.degraded,
	}
	if answer.Confidence == domain.ConfidenceLow {
		answer.Hedge = lowConfidenceHedge
	}
	return uc.complete(run, question, answer), nil
}

// retrieve runs dense and sparse retrieval concurrently. A single failing
// path degrades the request; both failing is a total retrieval failure.
func (uc *QueryUseCase) retrieve(ctx context.Context, run *pipelineRun, query string) ([]domain.ScoredChunk, []domain.ScoredChunk, error) {
	var (
		dense, sparse       []domain.ScoredChunk
		denseErr, sparseErr error
		g                   errgroup.Group
	)
	g.Go(func() error {
		dense, denseErr = uc.searchDense(ctx, query)
		return nil
	})
	g.Go(func() error {
		sparse, sparseErr = uc.searchSparse(ctx, query)
		return nil
	})
	_ = g.Wait()

	if denseErr != nil && sparseErr != nil {
		return nil, nil, domain.WrapError(domain.ErrRetrievalUnavailable, "retrieve", errors.Join(denseErr, sparseErr))
	}
	if denseErr != nil {
		run.degrade(domain.DegradedDense, denseErr)
	}
	if sparseErr != nil {
		run.degrade(domain.DegradedSparse, sparseErr)
	}
	return dense, sparse, nil
}

func (uc *QueryUseCase) searchSparse(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	if uc.sparse == nil {
		return nil, errors.New("sparse index not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, uc.opts.RetrievalTimeout)
	defer cancel()
	_, span := tracer.Start(ctx, "query.sparse")
	defer span.End()

	hits, err := uc.sparse.Search(ctx, query, uc.opts.SparseTopK)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("search sparse index: %w", err)
	}
	return hits, nil
}

func (uc *QueryUseCase) generate(ctx context.Context, sessionID, question string, shown []domain.Chunk) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.opts.GenerationTimeout)
	defer cancel()

	var history []domain.Turn
	if uc.sessions != nil {
		history = uc.sessions.Context(sessionID)
	}
	text, err := uc.generator.GenerateAnswer(ctx, question, history, shown)
	if err != nil {
		return "", domain.WrapError(domain.ErrGeneration, "generate answer", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.WrapError(domain.ErrGeneration, "generate answer", errors.New("empty completion"))
	}
	return text, nil
}

// complete records the turn unless the caller has gone away.
func (uc *QueryUseCase) complete(run *pipelineRun, question string, answer *domain.GroundedAnswer) *domain.GroundedAnswer {
	run.advance(StateCompleted)
	if uc.sessions != nil && run.ctx.Err() == nil {
		ids := make([]string, len(answer.Citations))
		for i, c := range answer.Citations {
			ids[i] = c.ChunkID
		}
		uc.sessions.Append(run.sessionID, domain.Turn{
			Query:      question,
			Answer:     answer.Text,
			ChunkIDs:   ids,
			Confidence: answer.Confidence,
			CreatedAt:  time.Now().UTC(),
		})
	}
	uc.observer.ObserveAnswer(answer.Confidence, len(answer.Citations))
	return answer
}

func (uc *QueryUseCase) ClearSession(_ context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "clear session", errors.New("session id is required"))
	}
	if uc.sessions != nil {
		uc.sessions.Clear(sessionID)
	}
	return nil
}

func noContentAnswer(run *pipelineRun) *domain.GroundedAnswer {
	return &domain.GroundedAnswer{
		Text:              insufficientInformation,
		Citations:         []domain.Citation{},
		Confidence:        domain.ConfidenceLow,
		Hedge:             lowConfidenceHedge,
		NoRelevantContent: true,
		SessionID:         run.sessionID,
		Degradations:      run.degraded,
	}
}

// pipelineRun tracks the state machine of one request. Each state gets its
// own span and a duration observation when the next state begins.
type pipelineRun struct {
	ctx       context.Context
	sessionID string
	observer  ports.PipelineObserver

	state    QueryState
	entered  time.Time
	span     trace.Span
	degraded []string
}

func newPipelineRun(ctx context.Context, sessionID string, observer ports.PipelineObserver) *pipelineRun {
	return &pipelineRun{
		ctx:       ctx,
		sessionID: sessionID,
		observer:  observer,
		state:     StateReceived,
		entered:   time.Now(),
	}
}

func (r *pipelineRun) advance(next QueryState) context.Context {
	r.closeStage()
	r.state = next
	r.entered = time.Now()
	ctx, span := tracer.Start(r.ctx, "query."+string(next))
	r.span = span
	slog.DebugContext(ctx, "query_stage", "session_id", r.sessionID, "state", next)
	return ctx
}

func (r *pipelineRun) closeStage() {
	r.observer.ObserveStage(string(r.state), time.Since(r.entered))
	if r.span != nil {
		r.span.End()
		r.span = nil
	}
}

func (r *pipelineRun) degrade(path string, err error) {
	r.degraded = append(r.degraded, path)
	r.observer.ObserveDegraded(path)
	if r.span != nil {
		r.span.AddEvent("degraded", trace.WithAttributes(attribute.String("path", path)))
	}
	slog.WarnContext(r.ctx, "retrieval_degraded",
		"session_id", r.sessionID,
		"state", r.state,
		"path", path,
		"degraded", true,
		"error", err,
	)
}

func (r *pipelineRun) finish(err error) {
	if err != nil {
		slog.ErrorContext(r.ctx, "query_failed", "session_id", r.sessionID, "state", r.state, "error", err)
	}
	r.closeStage()
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration)   {}
func (nopObserver) ObserveDegraded(string)               {}
func (nopObserver) ObserveAnswer(domain.Confidence, int) {}
