package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/candymint/service/config"
	"github.com/brojonat/candymint/service/db"
	"github.com/brojonat/candymint/service/metrics"
	"github.com/brojonat/candymint/service/minter"
	natspkg "github.com/brojonat/candymint/service/nats"
	"github.com/brojonat/candymint/service/server"
	"github.com/brojonat/candymint/service/solana"
	"github.com/brojonat/candymint/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"machine", cfg.CandyMachineID.String(),
		"network", cfg.SolanaNetwork,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Persistence is optional. Without a database the attempt history
	// endpoints answer 503.
	var (
		attempts  server.AttemptReader
		snapshots minter.SnapshotStore
	)
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		store := db.NewStore(dbPool).WithMetrics(metricsCollector)
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		attempts, snapshots = store, store
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, persistence disabled")
	}

	ledger, err := solana.Dial(cfg.SolanaRPCURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create solana client", "error", err)
		os.Exit(1)
	}
	logger.Info("initialized solana RPC client")

	var publisher minter.Publisher
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Warn("NATS unavailable, events will not be published", "error", err)
	} else {
		defer natsPublisher.Close()
		publisher = natsPublisher
	}

	refresher := minter.NewRefresher(
		ledger,
		cfg.CandyMachineID,
		cfg.SolanaNetwork,
		cfg.SnapshotConfig(),
		publisher,
		snapshots,
		metricsCollector,
		logger,
	)

	// SSE streaming rides on the same JetStream stream the publisher feeds.
	var ssePublisher *server.SSEPublisher
	if natsPublisher != nil {
		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("failed to create SSE publisher", "error", err)
		}
	}

	// Durable mints need Temporal. The server still serves reads without it.
	var mints server.MintService
	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Warn("temporal unavailable, durable mints disabled", "error", err)
	} else {
		defer temporalClient.Close()
		mints = temporalClient
	}

	httpServer := server.New(cfg.ServerAddr, cfg, refresher, attempts, mints, ssePublisher, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
		"persistence", attempts != nil,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
