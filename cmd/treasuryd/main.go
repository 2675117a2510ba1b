package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/solsuite/treasuryd/internal/adapter/collab"
	tdhttp "github.com/solsuite/treasuryd/internal/adapter/http"
	"github.com/solsuite/treasuryd/internal/adapter/memstore"
	tdnats "github.com/solsuite/treasuryd/internal/adapter/nats"
	tdotel "github.com/solsuite/treasuryd/internal/adapter/otel"
	"github.com/solsuite/treasuryd/internal/adapter/postgres"
	"github.com/solsuite/treasuryd/internal/adapter/ristretto"
	"github.com/solsuite/treasuryd/internal/adapter/ws"
	"github.com/solsuite/treasuryd/internal/config"
	"github.com/solsuite/treasuryd/internal/fetch"
	"github.com/solsuite/treasuryd/internal/logger"
	"github.com/solsuite/treasuryd/internal/middleware"
	"github.com/solsuite/treasuryd/internal/port/cache"
	"github.com/solsuite/treasuryd/internal/port/messagequeue"
	"github.com/solsuite/treasuryd/internal/resilience"
	"github.com/solsuite/treasuryd/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"objective", cfg.Orchestrator.DefaultObjective,
	)

	ctx := context.Background()

	// --- Telemetry ---
	otelShutdown, err := tdotel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := tdotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL archive (optional)
	var archive service.Archiver
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		archive = postgres.NewArchive(pool)
		slog.Info("postgres archive enabled")
	}

	// NATS (optional)
	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		q, err := tdnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = q.Close() }()
		queue = q
	}

	// Quote cache
	var quoteCache cache.Cache
	if cfg.Cache.MaxSizeMB > 0 {
		rc, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		defer rc.Close()
		quoteCache = rc
	}

	// --- Services ---
	hub := ws.NewHub()

	fetcher := fetch.New(cfg.Fetch)
	breakers := resilience.NewRegistry(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	directory := collab.NewDirectory(fetcher, breakers, quoteCache, cfg.Cache.QuoteTTL, cfg.Collaborators, metrics, log)

	planner := service.NewOrchestrator(directory, cfg.Orchestrator, queue, hub, metrics, log)
	coordinator := service.NewCoordinator(memstore.New(), cfg.Executions, queue, hub, archive, metrics, log)

	gcCtx, stopGC := context.WithCancel(ctx)
	defer stopGC()
	go coordinator.RunGC(gcCtx)

	// --- HTTP ---
	handlers := tdhttp.NewHandlers(planner, coordinator)

	r := chi.NewRouter()

	r.Use(tdhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tdhttp.SecurityHeaders)
	r.Use(tdhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(tdotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.Timeout(2 * time.Minute))

	r.Get("/health", healthHandler(cfg, queue))

	// WebSocket endpoint
	r.Get("/ws", hub.HandleWS)

	tdhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler returns an http.HandlerFunc that reports service health.
func healthHandler(cfg *config.Config, queue messagequeue.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:   "ok",
			Postgres: "disabled",
			NATS:     "disabled",
		}
		if cfg.Postgres.DSN != "" {
			status.Postgres = "enabled"
		}
		if queue != nil {
			status.NATS = "connected"
			if q, ok := queue.(*tdnats.Queue); ok && !q.IsConnected() {
				status.NATS = "disconnected"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
