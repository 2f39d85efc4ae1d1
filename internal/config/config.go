// Package config loads settings for the controller and worker from
// defaults, an optional YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"vlem/internal/catalog"

	"github.com/spf13/viper"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "vlem.yaml"

// Queue backends.
const (
	QueuePostgres = "postgres"
	QueueRedis    = "redis"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// APIToken guards the controller API. Empty disables auth.
	APIToken string

	// Per client IP; 0 disables limiting.
	RateLimit      float64
	RateLimitBurst int

	LogLevel string

	// LabsDataDir holds one directory per lab.
	LabsDataDir string

	QueueBackend string
	RedisURL     string

	// Worker-specific configuration
	WorkerConcurrency       int
	WorkerPollInterval      time.Duration
	WorkerMaxBackoff        time.Duration
	WorkerHeartbeatInterval time.Duration
	WorkerMetricsPort       int

	ComposeTimeout      time.Duration
	ComposeProbeTimeout time.Duration
	StartAfterBuild     bool

	Catalog        catalog.Config
	CatalogTimeout time.Duration

	// OTLP gRPC collector address
	OTELEndpoint string
}

// setting is one config key with its environment variable and default.
type setting struct {
	key string
	env string
	def any
}

var settings = []setting{
	{"database_url", "DATABASE_URL", ""},
	{"http_port", "PORT", 6161},
	{"api_token", "VLEM_API_TOKEN", ""},
	{"rate_limit", "RATE_LIMIT", 10.0},
	{"rate_limit_burst", "RATE_LIMIT_BURST", 20},
	{"log_level", "LOG_LEVEL", "info"},
	{"labs_data_dir", "VLEM_LABS_DIR", "/var/lib/vlem/labs"},
	{"queue_backend", "QUEUE_BACKEND", QueuePostgres},
	{"redis_url", "REDIS_URL", ""},
	{"worker_concurrency", "WORKER_CONCURRENCY", 1},
	{"worker_poll_interval", "WORKER_POLL_INTERVAL", time.Second},
	{"worker_max_backoff", "WORKER_MAX_BACKOFF", 30 * time.Second},
	{"worker_heartbeat_interval", "WORKER_HEARTBEAT_INTERVAL", 2 * time.Minute},
	{"worker_metrics_port", "WORKER_METRICS_PORT", 6162},
	{"compose_timeout", "COMPOSE_TIMEOUT", 300 * time.Second},
	{"compose_probe_timeout", "COMPOSE_PROBE_TIMEOUT", 10 * time.Second},
	{"start_after_build", "START_AFTER_BUILD", false},
	{"catalog_raw_base", "CATALOG_RAW_BASE", "https://raw.githubusercontent.com"},
	{"catalog_api_base", "CATALOG_API_BASE", "https://api.github.com"},
	{"catalog_owner", "CATALOG_OWNER", ""},
	{"catalog_repo", "CATALOG_REPO", ""},
	{"catalog_branch", "CATALOG_BRANCH", "main"},
	{"catalog_templates_path", "CATALOG_TEMPLATES_PATH", "templates"},
	{"catalog_index_file", "CATALOG_INDEX_FILE", "templates.json"},
	{"catalog_token", "CATALOG_TOKEN", ""},
	{"catalog_timeout", "CATALOG_TIMEOUT", 15 * time.Second},
	{"otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"},
}

// Load reads configuration. Precedence: environment, then the YAML file at
// path (or DefaultFile when path is empty and it exists), then defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", s.env, err)
		}
	}

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		DatabaseURL:             v.GetString("database_url"),
		HTTPPort:                v.GetInt("http_port"),
		APIToken:                v.GetString("api_token"),
		RateLimit:               v.GetFloat64("rate_limit"),
		RateLimitBurst:          v.GetInt("rate_limit_burst"),
		LogLevel:                v.GetString("log_level"),
		LabsDataDir:             v.GetString("labs_data_dir"),
		QueueBackend:            strings.ToLower(v.GetString("queue_backend")),
		RedisURL:                v.GetString("redis_url"),
		WorkerConcurrency:       v.GetInt("worker_concurrency"),
		WorkerPollInterval:      v.GetDuration("worker_poll_interval"),
		WorkerMaxBackoff:        v.GetDuration("worker_max_backoff"),
		WorkerHeartbeatInterval: v.GetDuration("worker_heartbeat_interval"),
		WorkerMetricsPort:       v.GetInt("worker_metrics_port"),
		ComposeTimeout:          v.GetDuration("compose_timeout"),
		ComposeProbeTimeout:     v.GetDuration("compose_probe_timeout"),
		StartAfterBuild:         v.GetBool("start_after_build"),
		Catalog: catalog.Config{
			RawBase:       v.GetString("catalog_raw_base"),
			APIBase:       v.GetString("catalog_api_base"),
			Owner:         v.GetString("catalog_owner"),
			Repo:          v.GetString("catalog_repo"),
			Branch:        v.GetString("catalog_branch"),
			TemplatesPath: v.GetString("catalog_templates_path"),
			IndexFile:     v.GetString("catalog_index_file"),
			Token:         v.GetString("catalog_token"),
		},
		CatalogTimeout: v.GetDuration("catalog_timeout"),
		OTELEndpoint:   v.GetString("otel_endpoint"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url is required (env: DATABASE_URL)"))
	}
	switch c.QueueBackend {
	case QueuePostgres:
	case QueueRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis_url is required when queue_backend is redis (env: REDIS_URL)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue_backend %q: use postgres or redis", c.QueueBackend))
	}
	if c.Catalog.Owner == "" || c.Catalog.Repo == "" {
		errs = append(errs, errors.New("catalog_owner and catalog_repo are required (env: CATALOG_OWNER, CATALOG_REPO)"))
	}
	if c.ComposeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("compose_timeout must be positive, got %v", c.ComposeTimeout))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("worker_concurrency must be at least 1, got %d", c.WorkerConcurrency))
	}
	return errors.Join(errs...)
}
