// Package main is the entry point for the vlem controller.
// The controller serves the HTTP API: template catalog, lab records and
// job submission. Provisioning itself runs on workers.
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
	"vlem/internal/config"
	"vlem/internal/controller"
	"vlem/internal/controller/handlers"
	"vlem/internal/engine"
	"vlem/internal/logger"
	"vlem/internal/observability"
	"vlem/internal/store"
	"vlem/internal/store/postgres"
	"vlem/internal/store/redisq"

	"github.com/joho/godotenv"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: vlem.yaml in current directory)")
	flag.Parse()

	// A missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logg := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Postgres (the "Store")
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()

	// Run migrations if requested
	if *migrateFlag {
		logg.Info("running database migrations")
		version, err := postgres.Migrate(db.DB())
		if err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		logg.Info("migrations completed", "version", version)
	}

	queue, closeQueue, err := openQueue(ctx, cfg, db)
	if err != nil {
		log.Fatalf("Failed to open job queue: %v", err)
	}
	defer closeQueue()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "vlem-controller", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logg.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logg.Warn("failed to shutdown metrics", "error", err)
		}
	}()
	if err := observability.RegisterQueueDepth(queue, logg); err != nil {
		logg.Warn("queue depth metric disabled", "error", err)
	}

	fetcher := catalog.New(cfg.Catalog, &http.Client{Timeout: cfg.CatalogTimeout}, logg)

	deps := handlers.Dependencies{
		Store:   db,
		Queue:   queue,
		Catalog: fetcher,
		Logger:  logg,
	}

	// Container listing is optional; the rest of the API works without Docker.
	inspector, err := engine.NewFromEnv(logg)
	if err != nil {
		logg.Warn("container inspection disabled", "error", err)
	} else {
		defer inspector.Close()
		deps.Containers = inspector
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, deps, controller.Options{
		APIToken:       cfg.APIToken,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        metricsHandler,
		Logger:         logg,
	})
	if cfg.APIToken == "" {
		logg.Warn("api authentication disabled: api_token is empty")
	}

	logg.Info("vlem controller starting", "addr", addr, "queue", cfg.QueueBackend)
	if err := srv.Run(ctx); err != nil {
		logg.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logg.Info("server exited properly")
}

// openQueue returns the configured job transport. The Postgres store doubles
// as the default queue.
func openQueue(ctx context.Context, cfg *config.Config, db *postgres.Store) (store.Queue, func(), error) {
	if cfg.QueueBackend != config.QueueRedis {
		return db, func() {}, nil
	}
	openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	q, err := redisq.Open(openCtx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return q, func() { q.Close() }, nil
}
