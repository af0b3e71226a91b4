// Kestrel - Fraud detection for field survey submissions.
// Licensed under the Apache License 2.0

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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/oslsr/kestrel/internal/alerting"
	"github.com/oslsr/kestrel/internal/api"
	"github.com/oslsr/kestrel/internal/bus"
	"github.com/oslsr/kestrel/internal/cache"
	"github.com/oslsr/kestrel/internal/domain"
	"github.com/oslsr/kestrel/internal/engine"
	"github.com/oslsr/kestrel/internal/heuristics"
	"github.com/oslsr/kestrel/internal/metrics"
	"github.com/oslsr/kestrel/internal/repository"
	"github.com/oslsr/kestrel/internal/review"
	"github.com/oslsr/kestrel/internal/thresholds"
	"github.com/oslsr/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"worker_concurrency", cfg.Worker.Concurrency,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("kestrel stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("kestrel shutdown complete")
}

func run(ctx context.Context, cfg *domain.Config) error {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	if sized, ok := cacheImpl.(interface{ Stats() (int, int) }); ok {
		metrics.RegisterGauge(reg, "kestrel_cache_entries", "Entries held in the local cache", func() float64 {
			size, _ := sized.Stats()
			return float64(size)
		})
	}

	thresholdSvc := thresholds.NewService(repo, cacheImpl, cfg.Thresholds)
	if cfg.Thresholds.SeedDefaults {
		n, err := thresholdSvc.Seed(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed thresholds: %w", err)
		}
		if n > 0 {
			slog.Info("default thresholds seeded", "count", n)
		}
	}
	snap, err := thresholdSvc.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load thresholds: %w", err)
	}
	slog.Info("thresholds loaded",
		"rules", len(snap.Rules),
		"config_version", snap.ConfigVersion,
	)

	policy, err := alerting.Compile(cfg.Alerts.Expression)
	if err != nil {
		return fmt.Errorf("failed to compile alert policy: %w", err)
	}

	eng := engine.New(repo, thresholdSvc, heuristics.Default(nil), cfg.Engine, m)
	dispatcher := worker.NewDispatcher(busImpl, cacheImpl, cfg.Worker.JobTTL, m)

	var evalWorker *worker.Worker
	if cfg.Worker.Enabled {
		evalWorker = worker.NewWorker(busImpl, cacheImpl, eng, policy, cfg.Worker, m)
		if err := evalWorker.Start(); err != nil {
			return fmt.Errorf("failed to start evaluation worker: %w", err)
		}
		metrics.RegisterGauge(reg, "kestrel_worker_jobs_in_flight", "Evaluation jobs currently running", func() float64 {
			return float64(evalWorker.GetStats().InFlight)
		})
	}

	reviews := review.NewService(repo, repo, review.NewBusStatusHook(busImpl), m)

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:       repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Thresholds: thresholdSvc,
		Reviews:    reviews,
		Dispatcher: dispatcher,
		Metrics:    m,
		Gatherer:   reg,
		Version:    Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"alert_expression", policy.Expression(),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if evalWorker != nil {
		if err := evalWorker.Stop(); err != nil {
			slog.Error("failed to stop evaluation worker", "error", err)
		}
	}

	return serveErr
}
