package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/candymint/service/candymachine"
	"github.com/brojonat/candymint/service/config"
	"github.com/brojonat/candymint/service/db"
	"github.com/brojonat/candymint/service/metrics"
	"github.com/brojonat/candymint/service/minter"
	"github.com/brojonat/candymint/service/temporal"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ViewReader derives snapshots and evaluates callers against them.
type ViewReader interface {
	Snapshot(ctx context.Context) (candymachine.MintSnapshot, error)
	Evaluate(ctx context.Context, s candymachine.MintSnapshot, wallet *solana.PublicKey) *minter.View
}

// AttemptReader reads persisted mint attempts.
type AttemptReader interface {
	GetMintAttempt(ctx context.Context, signature string, network string) (*db.MintAttempt, error)
	ListMintAttemptsByWallet(ctx context.Context, params db.ListMintAttemptsByWalletParams) ([]*db.MintAttempt, error)
}

// MintService starts and reports durable mints.
type MintService interface {
	StartMint(ctx context.Context, machine string, input temporal.MintWorkflowInput) (string, error)
	MintStatus(ctx context.Context, workflowID string) (*temporal.MintStatus, error)
}

// Server represents the HTTP server for the candy machine service.
type Server struct {
	addr         string
	cfg          *config.Config
	views        ViewReader
	attempts     AttemptReader
	mints        MintService
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// attempts is optional - if nil, attempt history endpoints answer 503.
// mints is optional - if nil, durable mint endpoints are not registered.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, views ViewReader, attempts AttemptReader, mints MintService, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		views:        views,
		attempts:     attempts,
		mints:        mints,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, h http.Handler) {
		_, path, _ := strings.Cut(pattern, " ")
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, path)(h))
	}

	// Candy machine state
	route("GET /api/v1/snapshot", handleGetSnapshot(s.views, s.logger))
	route("GET /api/v1/eligibility/{wallet}", handleGetEligibility(s.views, s.logger))

	// Attempt history
	route("GET /api/v1/attempts", handleListAttempts(s.attempts, s.cfg.SolanaNetwork, s.logger))
	route("GET /api/v1/attempts/{signature}", handleGetAttempt(s.attempts, s.cfg.SolanaNetwork, s.logger))

	// Durable mints
	if s.mints != nil {
		route("POST /api/v1/mints", handleStartMint(s.mints, s.cfg, s.logger))
		route("GET /api/v1/mints/{workflow_id}", handleGetMint(s.mints, s.logger))
	} else {
		s.logger.Warn("temporal not configured, mint endpoints disabled")
	}

	// SSE streaming endpoint (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/events", handleStreamEvents(s.ssePublisher, s.cfg.CandyMachineID.String(), s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoint enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoint disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"addr", s.addr,
		"machine", s.cfg.CandyMachineID.String(),
		"network", s.cfg.SolanaNetwork,
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
