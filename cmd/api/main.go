package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/grounded-qa/internal/adapters/http"
	"github.com/kirillkom/grounded-qa/internal/bootstrap"
	"github.com/kirillkom/grounded-qa/internal/config"
	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/observability/logging"
	"github.com/kirillkom/grounded-qa/internal/observability/metrics"
	"github.com/kirillkom/grounded-qa/internal/observability/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_invalid", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: "grounded-qa-api",
		Endpoint:    cfg.TracingEndpoint,
		SampleRate:  cfg.TracingSampleRate,
		Enabled:     cfg.TracingEnabled,
	})
	if err != nil {
		logger.Error("tracing_init_failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "api", Registerer: httpMetrics.Registerer()})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.IndexSync.Warm(ctx); err != nil {
		logger.Error("sparse_index_warm_failed", "error", err)
		os.Exit(1)
	}
	go app.Sessions.Run(ctx)

	if app.Queue != nil {
		go func() {
			err := app.Queue.SubscribeIndexed(ctx, func(handlerCtx context.Context, event domain.IndexEvent) error {
				return app.IndexSync.Apply(handlerCtx, event)
			})
			if err != nil {
				logger.Error("index_subscription_failed", "error", err)
				stop()
			}
		}()
	}

	router := httpadapter.NewRouter(httpadapter.Dependencies{
		Ingestor:  app.IngestUC,
		Reader:    app.IngestUC,
		Query:     app.QueryUC,
		Evaluator: app.EvalUC,
		Health:    app.Health,
		Metrics:   httpMetrics,
	}, httpadapter.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		MaxInFlight:    cfg.MaxInFlight,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}).Handler()

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.GenerationTimeout + cfg.RetrievalTimeout + cfg.JudgeTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "backend", cfg.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
