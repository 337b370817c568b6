package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/flowop/internal/logging"
	"github.com/rendis/flowop/pkg/flowop"
	"github.com/rendis/flowop/pkg/mcp"
)

func main() {
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := mcp.NewFlowServer(flowop.Config{Logger: logger}, nil, logger)
	logger.Info("flowop MCP server listening on stdio")
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
