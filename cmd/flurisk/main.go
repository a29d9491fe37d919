// Command flurisk serves the department flu-risk map over HTTP, refreshing
// it from the Sentinelles surveillance feed, and optionally publishes each
// snapshot to Kafka and answers questions through an Ollama model.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/flu-risk-etl/internal/adapter/geojson"
	httpadapter "github.com/couchcryptid/flu-risk-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/flu-risk-etl/internal/adapter/kafka"
	"github.com/couchcryptid/flu-risk-etl/internal/adapter/llm"
	"github.com/couchcryptid/flu-risk-etl/internal/adapter/rawfile"
	"github.com/couchcryptid/flu-risk-etl/internal/adapter/sentiweb"
	"github.com/couchcryptid/flu-risk-etl/internal/config"
	"github.com/couchcryptid/flu-risk-etl/internal/domain"
	"github.com/couchcryptid/flu-risk-etl/internal/gate"
	"github.com/couchcryptid/flu-risk-etl/internal/observability"
	"github.com/couchcryptid/flu-risk-etl/internal/pipeline"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	upstream := sentiweb.NewClient(cfg.SentiwebBaseURL, sentiweb.Options{
		Dataset:         cfg.SentiwebDataset,
		FallbackDataset: cfg.SentiwebFallbackDataset,
		Timeout:         cfg.SentiwebTimeout,
		MaxRetries:      cfg.SentiwebMaxRetries,
	}, metrics, logger)

	g := gate.New(upstream, rawfile.NewHistory(cfg.LocalHistoryPath), gate.NewFetchCacheState(), gate.Options{
		MinInterval: cfg.SentiwebMinInterval,
		Cooldown:    cfg.SentiwebCooldown,
		Normalizer:  domain.NewNormalizer(cfg.AgeFallback),
		Logger:      logger,
		Metrics:     metrics,
	})
	centroids := geojson.NewStore(cfg.GeoJSONURL, cfg.CentroidsPath, cfg.SentiwebTimeout, metrics, logger)
	risk := pipeline.NewRiskService(g, centroids, nil, logger)

	// Snapshot publishing is feature-flagged via KAFKA_BROKERS.
	var publisher pipeline.SnapshotPublisher
	var snapshotWriter *kafkaadapter.SnapshotWriter
	if cfg.KafkaEnabled() {
		snapshotWriter = kafkaadapter.NewSnapshotWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		publisher = snapshotWriter
		logger.Info("snapshot publishing enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("snapshot publishing disabled")
	}

	refresher := pipeline.NewRefresher(risk, publisher, cfg.RefreshInterval, nil, logger, metrics)

	var completer pipeline.Completer
	if cfg.ChatEnabled() {
		completer = llm.NewClient(cfg.OllamaURL, cfg.OllamaModel, logger)
		logger.Info("chat assistant enabled", "model", cfg.OllamaModel, "timeout", cfg.ChatTimeout)
	} else {
		logger.Info("chat assistant disabled")
	}
	chat := pipeline.NewChatService(refresher, completer, cfg.ChatTimeout, logger)

	srv := httpadapter.NewServer(cfg.HTTPAddr, refresher, refresher, chat, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := refresher.Run(ctx); err != nil {
			logger.Error("refresh loop error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if snapshotWriter != nil {
		if err := snapshotWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
