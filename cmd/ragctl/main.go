package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/grounded-qa/internal/adapters/cli"
	"github.com/kirillkom/grounded-qa/internal/bootstrap"
	"github.com/kirillkom/grounded-qa/internal/config"
	"github.com/kirillkom/grounded-qa/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, cleanup := cli.NewRootCommand(load)
	err := root.ExecuteContext(ctx)
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func load(ctx context.Context) (*cli.Services, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if os.Getenv("LOG_LEVEL") == "" {
		level = "warn"
	}
	slog.SetDefault(logging.New(os.Stderr, "ragctl", level))

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "ragctl"})
	if err != nil {
		return nil, nil, err
	}
	if err := app.IndexSync.Warm(ctx); err != nil {
		app.Close()
		return nil, nil, err
	}
	return &cli.Services{
		Ingestor:  app.IngestUC,
		Reader:    app.IngestUC,
		Query:     app.QueryUC,
		Evaluator: app.EvalUC,
	}, app.Close, nil
}
