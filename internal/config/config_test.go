package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// requiredEnv sets the keys every successful Load needs.
func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("CATALOG_OWNER", "acme")
	t.Setenv("CATALOG_REPO", "labs")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vlem-test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	requiredEnv(t)
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if err.Error() != "database_url is required (env: DATABASE_URL)" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	requiredEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Check defaults
	if cfg.HTTPPort != 6161 {
		t.Errorf("expected HTTPPort 6161, got %d", cfg.HTTPPort)
	}
	if cfg.APIToken != "" {
		t.Errorf("expected auth disabled by default, got token %q", cfg.APIToken)
	}
	if cfg.RateLimit != 10 || cfg.RateLimitBurst != 20 {
		t.Errorf("expected rate limit 10/20, got %v/%d", cfg.RateLimit, cfg.RateLimitBurst)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel info, got %s", cfg.LogLevel)
	}
	if cfg.LabsDataDir != "/var/lib/vlem/labs" {
		t.Errorf("expected LabsDataDir /var/lib/vlem/labs, got %s", cfg.LabsDataDir)
	}
	if cfg.QueueBackend != QueuePostgres {
		t.Errorf("expected QueueBackend postgres, got %s", cfg.QueueBackend)
	}
	if cfg.WorkerConcurrency != 1 {
		t.Errorf("expected WorkerConcurrency 1, got %d", cfg.WorkerConcurrency)
	}
	if cfg.WorkerPollInterval != 1*time.Second {
		t.Errorf("expected WorkerPollInterval 1s, got %v", cfg.WorkerPollInterval)
	}
	if cfg.WorkerMaxBackoff != 30*time.Second {
		t.Errorf("expected WorkerMaxBackoff 30s, got %v", cfg.WorkerMaxBackoff)
	}
	if cfg.WorkerHeartbeatInterval != 2*time.Minute {
		t.Errorf("expected WorkerHeartbeatInterval 2m, got %v", cfg.WorkerHeartbeatInterval)
	}
	if cfg.WorkerMetricsPort != 6162 {
		t.Errorf("expected WorkerMetricsPort 6162, got %d", cfg.WorkerMetricsPort)
	}
	if cfg.ComposeTimeout != 300*time.Second {
		t.Errorf("expected ComposeTimeout 300s, got %v", cfg.ComposeTimeout)
	}
	if cfg.ComposeProbeTimeout != 10*time.Second {
		t.Errorf("expected ComposeProbeTimeout 10s, got %v", cfg.ComposeProbeTimeout)
	}
	if cfg.StartAfterBuild {
		t.Error("expected StartAfterBuild false")
	}
	if cfg.Catalog.RawBase != "https://raw.githubusercontent.com" || cfg.Catalog.APIBase != "https://api.github.com" {
		t.Errorf("unexpected catalog bases: %+v", cfg.Catalog)
	}
	if cfg.Catalog.Branch != "main" || cfg.Catalog.TemplatesPath != "templates" || cfg.Catalog.IndexFile != "templates.json" {
		t.Errorf("unexpected catalog layout: %+v", cfg.Catalog)
	}
	if cfg.CatalogTimeout != 15*time.Second {
		t.Errorf("expected CatalogTimeout 15s, got %v", cfg.CatalogTimeout)
	}
	if cfg.OTELEndpoint != "localhost:4317" {
		t.Errorf("expected OTELEndpoint localhost:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	requiredEnv(t)
	t.Setenv("DATABASE_URL", "postgres://custom/db")
	t.Setenv("PORT", "9999")
	t.Setenv("VLEM_API_TOKEN", "s3cret")
	t.Setenv("RATE_LIMIT", "0")
	t.Setenv("WORKER_CONCURRENCY", "5")
	t.Setenv("WORKER_POLL_INTERVAL", "2s")
	t.Setenv("VLEM_LABS_DIR", "/tmp/labs")
	t.Setenv("COMPOSE_TIMEOUT", "90s")
	t.Setenv("START_AFTER_BUILD", "true")
	t.Setenv("QUEUE_BACKEND", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CATALOG_TOKEN", "ghp_x")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.APIToken != "s3cret" {
		t.Errorf("expected APIToken from env, got %q", cfg.APIToken)
	}
	if cfg.RateLimit != 0 {
		t.Errorf("expected RateLimit 0, got %v", cfg.RateLimit)
	}
	if cfg.WorkerConcurrency != 5 {
		t.Errorf("expected WorkerConcurrency 5, got %d", cfg.WorkerConcurrency)
	}
	if cfg.WorkerPollInterval != 2*time.Second {
		t.Errorf("expected WorkerPollInterval 2s, got %v", cfg.WorkerPollInterval)
	}
	if cfg.LabsDataDir != "/tmp/labs" {
		t.Errorf("expected LabsDataDir /tmp/labs, got %s", cfg.LabsDataDir)
	}
	if cfg.ComposeTimeout != 90*time.Second {
		t.Errorf("expected ComposeTimeout 90s, got %v", cfg.ComposeTimeout)
	}
	if !cfg.StartAfterBuild {
		t.Error("expected StartAfterBuild true")
	}
	if cfg.QueueBackend != QueueRedis || cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("expected redis backend, got %s %s", cfg.QueueBackend, cfg.RedisURL)
	}
	if cfg.Catalog.Owner != "acme" || cfg.Catalog.Repo != "labs" || cfg.Catalog.Token != "ghp_x" {
		t.Errorf("unexpected catalog config: %+v", cfg.Catalog)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "Unknown queue backend",
			env:     map[string]string{"QUEUE_BACKEND": "kafka"},
			wantErr: `unknown queue_backend "kafka"`,
		},
		{
			name:    "Redis without URL",
			env:     map[string]string{"QUEUE_BACKEND": "redis"},
			wantErr: "redis_url is required",
		},
		{
			name:    "Missing catalog repo",
			env:     map[string]string{"CATALOG_REPO": ""},
			wantErr: "catalog_owner and catalog_repo are required",
		},
		{
			name:    "Non-positive compose timeout",
			env:     map[string]string{"COMPOSE_TIMEOUT": "-5s"},
			wantErr: "compose_timeout must be positive",
		},
		{
			name:    "Zero concurrency",
			env:     map[string]string{"WORKER_CONCURRENCY": "0"},
			wantErr: "worker_concurrency must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://config-file/db"
http_port: 7777
worker_concurrency: 10
compose_timeout: 45s
start_after_build: true
catalog_owner: file-owner
catalog_repo: file-repo
catalog_branch: develop
`)

	// Clear env vars that would override
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("WORKER_CONCURRENCY", "")
	t.Setenv("CATALOG_OWNER", "")
	t.Setenv("CATALOG_REPO", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://config-file/db" {
		t.Errorf("expected DatabaseURL from config file, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 7777 {
		t.Errorf("expected HTTPPort 7777, got %d", cfg.HTTPPort)
	}
	if cfg.WorkerConcurrency != 10 {
		t.Errorf("expected WorkerConcurrency 10, got %d", cfg.WorkerConcurrency)
	}
	if cfg.ComposeTimeout != 45*time.Second {
		t.Errorf("expected ComposeTimeout 45s, got %v", cfg.ComposeTimeout)
	}
	if !cfg.StartAfterBuild {
		t.Error("expected StartAfterBuild from config file")
	}
	if cfg.Catalog.Owner != "file-owner" || cfg.Catalog.Repo != "file-repo" || cfg.Catalog.Branch != "develop" {
		t.Errorf("unexpected catalog config: %+v", cfg.Catalog)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://from-file/db"
http_port: 7777
catalog_owner: file-owner
catalog_repo: file-repo
`)

	// Set env var to override config file
	t.Setenv("DATABASE_URL", "postgres://from-env/db")
	t.Setenv("PORT", "8888")
	t.Setenv("CATALOG_OWNER", "")
	t.Setenv("CATALOG_REPO", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Env should override config file
	if cfg.DatabaseURL != "postgres://from-env/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 8888 {
		t.Errorf("expected HTTPPort 8888 from env, got %d", cfg.HTTPPort)
	}
	if cfg.Catalog.Owner != "file-owner" {
		t.Errorf("expected catalog owner from file, got %s", cfg.Catalog.Owner)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	requiredEnv(t)

	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent config file")
	}
}
