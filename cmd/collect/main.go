// Command collect fetches the current Sentinelles regional incidence and
// appends the rows not yet stored to the local history file read by the
// flurisk service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/flu-risk-etl/internal/adapter/rawfile"
	"github.com/couchcryptid/flu-risk-etl/internal/adapter/sentiweb"
	"github.com/couchcryptid/flu-risk-etl/internal/config"
	"github.com/couchcryptid/flu-risk-etl/internal/domain"
	"github.com/couchcryptid/flu-risk-etl/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg, logger)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	client := sentiweb.NewClient(cfg.SentiwebBaseURL, sentiweb.Options{
		Dataset:         cfg.SentiwebDataset,
		FallbackDataset: cfg.SentiwebFallbackDataset,
		Timeout:         cfg.SentiwebTimeout,
		MaxRetries:      cfg.SentiwebMaxRetries,
	}, observability.NewMetrics(), logger)

	rows, err := client.Dataset(ctx)
	if errors.Is(err, domain.ErrRateLimited) {
		logger.Warn("upstream rate limited, nothing collected")
		return 2
	}
	if err != nil {
		logger.Error("fetch dataset failed", "error", err)
		return 1
	}

	history := rawfile.NewHistory(cfg.LocalHistoryPath)
	added, err := history.Append(ctx, rows, time.Now())
	if err != nil {
		logger.Error("append history failed", "error", err, "path", history.Path())
		return 1
	}
	logger.Info("history updated", "path", history.Path(), "fetched", len(rows), "added", added)
	return 0
}
