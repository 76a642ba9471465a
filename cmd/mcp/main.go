package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/grounded-qa/internal/adapters/mcp"
	"github.com/kirillkom/grounded-qa/internal/bootstrap"
	"github.com/kirillkom/grounded-qa/internal/config"
	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/observability/logging"
)

var version = "dev"

func main() {
	logger := logging.New(os.Stderr, "mcp", "info")
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config_invalid", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stderr, "mcp", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "mcp"})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.IndexSync.Warm(ctx); err != nil {
		slog.Error("sparse_index_warm_failed", "error", err)
		os.Exit(1)
	}
	go app.Sessions.Run(ctx)
	if app.Queue != nil {
		go func() {
			_ = app.Queue.SubscribeIndexed(ctx, func(handlerCtx context.Context, event domain.IndexEvent) error {
				return app.IndexSync.Apply(handlerCtx, event)
			})
		}()
	}

	srv := mcpadapter.NewServer(app.QueryUC, app.IngestUC).MCPServer(version)
	if err := server.ServeStdio(srv); err != nil {
		slog.Error("mcp_server_failed", "error", err)
		os.Exit(1)
	}
}
