package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/fraudlens/fraudlens/internal/adapter/analyzer"
	flhttp "github.com/fraudlens/fraudlens/internal/adapter/http"
	flnats "github.com/fraudlens/fraudlens/internal/adapter/nats"
	flotel "github.com/fraudlens/fraudlens/internal/adapter/otel"
	"github.com/fraudlens/fraudlens/internal/adapter/postgres"
	"github.com/fraudlens/fraudlens/internal/adapter/ristretto"
	"github.com/fraudlens/fraudlens/internal/adapter/ws"
	"github.com/fraudlens/fraudlens/internal/config"
	"github.com/fraudlens/fraudlens/internal/logger"
	"github.com/fraudlens/fraudlens/internal/middleware"
	"github.com/fraudlens/fraudlens/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

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

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"telemetry", cfg.Telemetry.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	if cfg.Telemetry.Enabled {
		shutdown, err := flotel.Init(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("telemetry shutdown", "error", err)
			}
		}()
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := flnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	recCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer recCache.Close()

	var metrics *flotel.Metrics
	if cfg.Telemetry.Enabled {
		metrics, err = flotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	rules := analyzer.New(seedBehaviors())

	analysisSvc := service.NewAnalysisService(store, rules, queue, hub, metrics, log)
	hitlSvc := service.NewHITLService(store, recCache, queue, hub, metrics, log)
	historySvc := service.NewHistoryService(store, recCache, cfg.Cache.TTL, log)

	// --- HTTP ---
	handlers := &flhttp.Handlers{
		Analysis: analysisSvc,
		HITL:     hitlSvc,
		History:  historySvc,
		Hub:      hub,
	}

	r := chi.NewRouter()
	r.Use(flhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(flhttp.SecurityHeaders)
	r.Use(flhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Telemetry.Enabled {
		r.Use(flotel.HTTPMiddleware(cfg.Logging.Service))
	}

	flhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// seedBehaviors returns the demo customer profiles used when no external
// behavior source is configured.
func seedBehaviors() analyzer.StaticBehaviors {
	return analyzer.StaticBehaviors{
		"cus_001": {
			CustomerID:     "cus_001",
			UsualAmountAvg: 120,
			UsualHours:     "08-22",
			UsualCountries: "AR, UY",
			UsualDevices:   "dev_abc123, dev_tablet1",
		},
		"cus_002": {
			CustomerID:     "cus_002",
			UsualAmountAvg: 850,
			UsualHours:     "09-18",
			UsualCountries: "AR, CL, BR",
			UsualDevices:   "dev_xyz789",
		},
	}
}
