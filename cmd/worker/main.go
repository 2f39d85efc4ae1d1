// Package main is the entry point for the vlem worker.
// The worker pulls lab jobs from the queue and runs them through the
// provisioning engine: template download, compose build and teardown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vlem/internal/catalog"
	"vlem/internal/compose"
	"vlem/internal/config"
	"vlem/internal/logger"
	"vlem/internal/observability"
	"vlem/internal/ports"
	"vlem/internal/provision"
	"vlem/internal/store"
	"vlem/internal/store/postgres"
	"vlem/internal/store/redisq"
	"vlem/internal/worker"

	"github.com/joho/godotenv"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file (default: vlem.yaml in current directory)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logg := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.LabsDataDir, 0o755); err != nil {
		log.Fatalf("Failed to create labs directory %s: %v", cfg.LabsDataDir, err)
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()

	var queue store.Queue = db
	if cfg.QueueBackend == config.QueueRedis {
		openCtx, cancelOpen := context.WithTimeout(ctx, 5*time.Second)
		rq, err := redisq.Open(openCtx, cfg.RedisURL)
		cancelOpen()
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rq.Close()
		queue = rq
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "vlem-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logg.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics come first so the instruments created below bind to the
	// Prometheus-backed provider.
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logg.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	executor := compose.New(
		compose.WithTimeout(cfg.ComposeTimeout),
		compose.WithProbeTimeout(cfg.ComposeProbeTimeout),
		compose.WithLogger(logg),
	)
	// One resolution per process; a missing CLI is reported per job until
	// an operator sends SIGHUP.
	if command, err := executor.Resolve(ctx); err != nil {
		logg.Error("compose tooling unavailable", "error", err)
	} else {
		logg.Info("using compose tooling", "command", command)
	}

	engine := provision.New(provision.Config{
		LabsDir:         cfg.LabsDataDir,
		CommandTimeout:  cfg.ComposeTimeout,
		StartAfterBuild: cfg.StartAfterBuild,
	}, provision.Dependencies{
		Labs:      db,
		Logs:      db,
		Templates: catalog.New(cfg.Catalog, &http.Client{Timeout: cfg.CatalogTimeout}, logg),
		Compose:   executor,
		Ports:     ports.New(logg),
		Logger:    logg,
	})

	agent := worker.New(queue, engine, worker.AgentConfig{
		Concurrency:       cfg.WorkerConcurrency,
		PollInterval:      cfg.WorkerPollInterval,
		MaxBackoff:        cfg.WorkerMaxBackoff,
		HeartbeatInterval: cfg.WorkerHeartbeatInterval,
		JobTimeout:        2*cfg.ComposeTimeout + 4*cfg.CatalogTimeout,
	}, logg)

	logg.Info("worker started", "concurrency", cfg.WorkerConcurrency, "queue", cfg.QueueBackend)
	go func() {
		if err := agent.Run(ctx); err != nil {
			logg.Error("agent stopped", "error", err)
		}
	}()

	metricsAddr := fmt.Sprintf(":%d", cfg.WorkerMetricsPort)
	go func() {
		logg.Info("worker metrics listening", "addr", metricsAddr)
		if err := observability.ServeMetrics(ctx, metricsAddr, metricsHandler); err != nil {
			logg.Error("metrics server error", "error", err)
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range signals {
		if sig == syscall.SIGHUP {
			if command, err := executor.Reprobe(ctx); err != nil {
				logg.Error("compose re-probe failed", "error", err)
			} else {
				logg.Info("compose re-probe succeeded", "command", command)
			}
			continue
		}
		break
	}

	// In-flight jobs keep running until they finish or hit the job timeout.
	logg.Info("shutting down worker, draining in-flight jobs")
	cancel()

	<-agent.Done()
	logg.Info("worker exited")
}
