package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solwallet/service/config"
	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/lifecycle"
	"github.com/brojonat/solwallet/service/metrics"
	natspkg "github.com/brojonat/solwallet/service/nats"
	"github.com/brojonat/solwallet/service/server"
	"github.com/brojonat/solwallet/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// .env files are optional; real environment variables win over .env,
	// .env.local wins over both.
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()
	if err := cfg.RequireKeypair(); err != nil {
		panic(err)
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"network", string(cfg.Network),
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// nil uses the default registry, which /metrics serves
	metricsCollector := metrics.NewMetrics(nil)

	var opts []lifecycle.Option

	// Action history (optional)
	var history server.HistoryStore
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

		store := db.NewStore(dbPool, metricsCollector)
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")

		history = store
		opts = append(opts, lifecycle.WithRecorder(store))
	} else {
		logger.Warn("DATABASE_URL not set, action history disabled")
	}

	// Action events and SSE fan-out (optional)
	var ssePublisher *server.SSEPublisher
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		opts = append(opts, lifecycle.WithNotifier(natspkg.NewActionNotifier(publisher, logger)))

		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		opts = append(opts, lifecycle.WithNotifier(natspkg.NewActionNotifier(nil, logger)))
		logger.Warn("NATS_URL not set, action events and streaming disabled")
	}

	// Late confirmation watcher (optional)
	if cfg.TemporalHost != "" {
		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			temporal.WatchConfig{
				Network:    string(cfg.Network),
				Commitment: string(cfg.ConfirmCommitment),
				Window:     cfg.LateConfirmationWindow,
			},
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		opts = append(opts, lifecycle.WithLateWatcher(temporalClient))
	} else {
		logger.Warn("TEMPORAL_HOST not set, late confirmation watching disabled")
	}

	stack, err := lifecycle.Assemble(cfg, metricsCollector, logger, opts...)
	if err != nil {
		logger.Error("failed to assemble wallet", "error", err)
		os.Exit(1)
	}

	// Warm the cached balance and holdings; failures only mean the first
	// request refreshes them.
	if _, err := stack.Orchestrator.RefreshBalance(ctx); err != nil {
		logger.Warn("initial balance refresh failed", "error", err)
	}
	if _, err := stack.Orchestrator.RefreshHoldings(ctx); err != nil {
		logger.Warn("initial holdings refresh failed", "error", err)
	}

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

	httpServer := server.New(cfg.ServerAddr, stack.Orchestrator, history, ssePublisher, metricsCollector, logger)

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
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
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
