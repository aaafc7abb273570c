package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/holdings"
	"github.com/brojonat/solwallet/service/lifecycle"
	"github.com/brojonat/solwallet/service/metrics"
	solsvc "github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/units"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WalletService is the wallet the server exposes. *lifecycle.Orchestrator
// implements it.
type WalletService interface {
	Wallet() solana.PublicKey
	Network() solsvc.Network
	Balance() (units.Amount, bool)
	RefreshBalance(ctx context.Context) (units.Amount, error)
	Holdings() []holdings.TokenHolding
	RefreshHoldings(ctx context.Context) ([]holdings.TokenHolding, error)
	InProgress(action lifecycle.Action) bool
	Airdrop(ctx context.Context, amount string) (lifecycle.Result, error)
	Send(ctx context.Context, recipient, amount string) (lifecycle.Result, error)
	SendToken(ctx context.Context, recipient, mint, amount string) (lifecycle.Result, error)
	SignMessage(ctx context.Context, message []byte) (lifecycle.Result, error)
}

// HistoryStore lists recorded actions.
type HistoryStore interface {
	ListActions(ctx context.Context, params db.ListActionsParams) ([]*db.Action, error)
}

// Server represents the HTTP server for the wallet service.
type Server struct {
	addr         string
	wallet       WalletService
	history      HistoryStore
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The history store is optional - if nil, the history endpoint won't be available.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, wallet WalletService, history HistoryStore, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		wallet:       wallet,
		history:      history,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET /api/v1/balance", "/api/v1/balance", handleGetBalance(s.wallet, s.logger))
	s.route(mux, "GET /api/v1/holdings", "/api/v1/holdings", handleListHoldings(s.wallet, s.logger))
	s.route(mux, "POST /api/v1/airdrop", "/api/v1/airdrop", handleAirdrop(s.wallet, s.logger))
	s.route(mux, "POST /api/v1/transfers", "/api/v1/transfers", handleTransfer(s.wallet, s.logger))
	s.route(mux, "POST /api/v1/token-transfers", "/api/v1/token-transfers", handleTokenTransfer(s.wallet, s.logger))
	s.route(mux, "POST /api/v1/signatures", "/api/v1/signatures", handleSignMessage(s.wallet, s.logger))
	s.route(mux, "POST /api/v1/signatures/verify", "/api/v1/signatures/verify", handleVerifySignature(s.metrics, s.logger))
	s.route(mux, "GET /api/v1/actions", "/api/v1/actions", handleActionStatus(s.wallet))
	s.route(mux, "GET /api/v1/receive", "/api/v1/receive", handleReceiveRequest(s.wallet, s.logger))

	if s.history != nil {
		s.route(mux, "GET /api/v1/history", "/api/v1/history", handleListHistory(s.history, s.wallet, s.logger))
	} else {
		s.logger.Warn("history store not configured, history endpoint disabled")
	}

	// SSE streaming endpoint (if SSE publisher is configured)
	if s.ssePublisher != nil {
		s.route(mux, "GET /api/v1/stream/actions", "/api/v1/stream/actions", handleStreamActions(s.ssePublisher, s.wallet.Wallet().String(), s.metrics, s.logger))
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

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.Handler) {
	mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Action requests block until confirmation and streams stay open, so
		// writes are not bounded here.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"addr", s.addr,
		"wallet", s.wallet.Wallet().String(),
		"network", string(s.wallet.Network()),
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
