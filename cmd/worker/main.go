package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/candymint/service/config"
	"github.com/brojonat/candymint/service/db"
	"github.com/brojonat/candymint/service/metrics"
	"github.com/brojonat/candymint/service/minter"
	natspkg "github.com/brojonat/candymint/service/nats"
	"github.com/brojonat/candymint/service/solana"
	"github.com/brojonat/candymint/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"machine", cfg.CandyMachineID.String(),
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	var (
		attempts  minter.AttemptStore
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
		attempts, snapshots = store, store
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, attempts and snapshots will not be recorded")
	}

	ledger, err := solana.Dial(cfg.SolanaRPCURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create solana client", "error", err)
		os.Exit(1)
	}

	// Without a keypair every mint is refused as "wallet not connected";
	// the refresh schedule still runs.
	var wallet *solana.KeypairWallet
	if cfg.MinterKeypairPath != "" {
		wallet, err = solana.LoadKeypairWallet(cfg.MinterKeypairPath)
		if err != nil {
			logger.Error("failed to load minter keypair", "error", err)
			os.Exit(1)
		}
		payer, _ := wallet.PublicIdentity()
		logger.Info("loaded minter keypair", "payer", payer.String())
	} else {
		logger.Warn("MINTER_KEYPAIR_PATH not set, mints will be refused")
	}

	var publisher minter.Publisher
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	publisher = natsPublisher
	logger.Info("connected to NATS", "url", cfg.NATSURL)

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
	orchestrator := minter.NewOrchestrator(
		ledger,
		wallet,
		solana.NewMintTransactionBuilder(ledger, cfg.ProgramID),
		publisher,
		attempts,
		minter.Options{Network: cfg.SolanaNetwork, Tracker: cfg.TrackerOptions()},
		metricsCollector,
		logger,
	)

	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	if err := temporalClient.UpsertRefreshSchedule(ctx, cfg.CandyMachineID.String(), cfg.RefreshInterval); err != nil {
		logger.Error("failed to schedule snapshot refresh", "error", err)
		os.Exit(1)
	}

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Refresher:         refresher,
		Orchestrator:      orchestrator,
		Ledger:            ledger,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"refresh_interval", cfg.RefreshInterval,
		"tx_timeout", cfg.TxTimeout,
	)

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- worker.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		worker.Stop()
		logger.Info("shutdown complete")
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
