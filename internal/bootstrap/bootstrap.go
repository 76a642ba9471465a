package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/grounded-qa/internal/config"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
	"github.com/kirillkom/grounded-qa/internal/core/usecase"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/cache/redis"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/chunking"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/extractor"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/index/bm25"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/repository/memory"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/resilience"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/session"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/storage/localfs"
	memvector "github.com/kirillkom/grounded-qa/internal/infrastructure/vector/memory"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/grounded-qa/internal/observability/metrics"
)

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Service    string
	Registerer prometheus.Registerer
}

type App struct {
	Config config.Config

	Queue     *nats.Queue
	Repo      ports.DocumentRepository
	Chunks    ports.ChunkStore
	Sparse    *bm25.Index
	Sessions  *session.Store
	IndexSync *usecase.IndexSync

	IngestUC *usecase.IngestDocumentUseCase
	QueryUC  *usecase.QueryUseCase
	EvalUC   *usecase.EvaluateUseCase

	Checks map[string]HealthCheck

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	app := &App{Config: cfg, Checks: map[string]HealthCheck{}}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	pipelineMetrics := metrics.NewPipelineMetrics(opts.Service, registerer)
	newExecutor := func() *resilience.Executor {
		return resilience.NewExecutor(resilience.Config{
			RetryMaxAttempts:    cfg.RetryMaxAttempts,
			RetryInitialBackoff: cfg.RetryInitialBackoff,
			BreakerEnabled:      cfg.BreakerEnabled,
			BreakerOpenTimeout:  cfg.BreakerOpenTimeout,
		}).WithStateObserver(pipelineMetrics.ObserveBreakerState)
	}

	var vectorDB ports.VectorStore
	switch cfg.Backend {
	case config.BackendMemory:
		repo := memory.NewRepository()
		app.Repo, app.Chunks = repo, repo
		vectorDB = memvector.New()
	default:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.onClose(func() { _ = db.Close() })
		repo := postgres.NewDocumentRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		app.Repo, app.Chunks = repo, repo
		app.Checks["postgres"] = pingDB(db)
		vectorDB = qdrant.NewWithExecutor(cfg.QdrantURL, cfg.QdrantCollection, newExecutor())
	}

	if cfg.Backend != config.BackendMemory && cfg.NATSURL != "" {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSUploadSubject, cfg.NATSIndexedSubject, nats.Options{
			ResilienceExecutor: newExecutor(),
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.onClose(queue.Close)
		app.Queue = queue
		app.Checks["nats"] = queue.Ping
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	ollamaClient := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		JudgeModel:         cfg.OllamaJudgeModel,
		Timeout:            cfg.OllamaTimeout,
		ResilienceExecutor: newExecutor(),
	})
	var embedder ports.Embedder = ollama.NewEmbedder(ollamaClient)
	if cfg.RedisAddr != "" {
		rdb, err := redis.Connect(ctx, redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, fmt.Errorf("init embedding cache: %w", err)
		}
		app.onClose(func() { _ = rdb.Close() })
		embedder = redis.NewCachedEmbedder(embedder, rdb, redis.Options{Namespace: cfg.OllamaEmbedModel, TTL: cfg.EmbeddingCacheTTL})
		app.Checks["redis"] = pingRedis(rdb)
	}

	app.Sparse = bm25.New(cfg.BM25K1, cfg.BM25B)
	app.Sessions = session.NewStore(cfg.SessionMaxTurns, cfg.SessionMaxChars, cfg.SessionIdleTTL)
	app.IndexSync = usecase.NewIndexSync(app.Chunks, app.Sparse)

	var ingestQueue ports.MessageQueue
	if app.Queue != nil {
		ingestQueue = app.Queue
	}
	app.IngestUC = usecase.NewIngestDocumentUseCase(usecase.IngestDependencies{
		Repo:      app.Repo,
		Storage:   storage,
		Queue:     ingestQueue,
		Extractor: extractor.NewRouter(),
		Chunker:   chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		Embedder:  embedder,
		VectorDB:  vectorDB,
		Sparse:    app.Sparse,
	}, cfg.MaxUploadBytes)

	app.QueryUC = usecase.NewQueryUseCase(usecase.QueryDependencies{
		Embedder:  embedder,
		VectorDB:  vectorDB,
		Sparse:    app.Sparse,
		Chunks:    app.Chunks,
		Generator: ollama.NewGenerator(ollamaClient),
		Reranker:  newReranker(cfg, ollamaClient),
		Gate: usecase.NewGroundingGate(ollama.NewJudge(ollamaClient), usecase.GroundingThresholds{
			High:   cfg.GroundingHigh,
			Medium: cfg.GroundingMedium,
		}, cfg.JudgeTimeout),
		Sessions: app.Sessions,
		Observer: pipelineMetrics,
	}, usecase.QueryOptions{
		DenseTopK:         cfg.DenseTopK,
		SparseTopK:        cfg.SparseTopK,
		ContextTopK:       cfg.ContextTopK,
		RRFConstant:       cfg.RRFConstant,
		Weights:           usecase.FusionWeights{Dense: cfg.DenseWeight, Sparse: cfg.SparseWeight},
		RetrievalTimeout:  cfg.RetrievalTimeout,
		GenerationTimeout: cfg.GenerationTimeout,
	})
	app.EvalUC = usecase.NewEvaluateUseCase(app.QueryUC, app.Chunks, cfg.EvalConcurrency)
	if cfg.RerankMode == config.RerankModel {
		app.EvalUC.WithRelevanceScorer(ollama.NewRelevanceScorer(ollamaClient))
	}

	slog.Info("bootstrap_ready",
		"backend", cfg.Backend,
		"rerank_mode", cfg.RerankMode,
		"embedding_cache", cfg.RedisAddr != "",
		"queue", app.Queue != nil,
	)
	ok = true
	return app, nil
}

func newReranker(cfg config.Config, client *ollama.Client) *usecase.Reranker {
	var scorer ports.RelevanceScorer
	switch cfg.RerankMode {
	case config.RerankModel:
		scorer = ollama.NewRelevanceScorer(client)
	case config.RerankLexical:
		scorer = usecase.LexicalScorer{}
	}
	return usecase.NewReranker(scorer, cfg.RerankTopN, cfg.ContextTopK, cfg.RerankTimeout)
}

// Health runs every registered check and returns failures by component.
func (a *App) Health(ctx context.Context) map[string]error {
	failed := map[string]error{}
	for name, check := range a.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err
		}
	}
	return failed
}

func (a *App) onClose(fn func()) {
	a.closeFns = append(a.closeFns, fn)
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

func pingDB(db *sql.DB) HealthCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

func pingRedis(rdb *goredis.Client) HealthCheck {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
