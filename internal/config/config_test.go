package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eligetuhosting/previewd/internal/screenshot"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
screenshot:
  ttl_seconds: 600
  dedupe_inflight: true
  sweep_interval_seconds: 0
  providers:
    - name: thumio
      url_template: "https://image.thum.io/get/width/{width}/https://{domain}"
      timeout_ms: 3500
    - name: mshots
      url_template: "https://s.wordpress.com/mshots/v1/{url}"
      rps: 0.5
dns:
  endpoint: https://cloudflare-dns.com/dns-query
  timeout_ms: 2500
cache:
  backend: redis
  redis:
    addr: redis:6379
    db: 2
headless:
  enabled: true
  max_parallel: 2
storage:
  backend: gcs
  gcs_bucket: previews
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("server/auth overrides not applied: %+v %+v", cfg.Server, cfg.Auth)
	}
	if cfg.CacheTTL() != 10*time.Minute {
		t.Fatalf("expected ttl override, got %v", cfg.CacheTTL())
	}
	if !cfg.Screenshot.DedupeInFlight || cfg.SweepInterval() != 0 {
		t.Fatalf("screenshot overrides not applied: %+v", cfg.Screenshot)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.Redis.Addr != "redis:6379" || cfg.Cache.Redis.DB != 2 {
		t.Fatalf("cache overrides not applied: %+v", cfg.Cache)
	}
	if cfg.Cache.Redis.KeyPrefix != "screenshot:" {
		t.Fatalf("expected default key prefix to survive, got %q", cfg.Cache.Redis.KeyPrefix)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "previews" {
		t.Fatalf("storage overrides not applied: %+v", cfg.Storage)
	}
	if cfg.Logging.Development {
		t.Fatal("expected logging.development=false")
	}

	chain := cfg.ProviderChain()
	if len(chain) != 2 || chain[0].Name != "thumio" || chain[1].Name != "mshots" {
		t.Fatalf("unexpected provider chain: %+v", chain)
	}
	if chain[0].Timeout != 3500*time.Millisecond || chain[1].Timeout != 4*time.Second {
		t.Fatalf("unexpected provider timeouts: %v %v", chain[0].Timeout, chain[1].Timeout)
	}
	if got := chain[0].BuildURL("example.cl"); got != "https://image.thum.io/get/width/400/https://example.cl" {
		t.Fatalf("unexpected provider url %q", got)
	}

	limits := cfg.ProviderLimits()
	if limits.DefaultRPS != 0 || limits.DefaultBurst != 5 || limits.PerKeyRPS["mshots"] != 0.5 {
		t.Fatalf("unexpected provider limits: %+v", limits)
	}
	if _, ok := limits.PerKeyRPS["thumio"]; ok {
		t.Fatal("thumio should inherit the default rate")
	}

	pipeline := cfg.Pipeline()
	if pipeline.ResolveTimeout != 2500*time.Millisecond || pipeline.FaviconTimeout != 2*time.Second {
		t.Fatalf("unexpected pipeline timeouts: %+v", pipeline)
	}
	if !pipeline.DedupeInFlight {
		t.Fatal("expected dedupe to propagate to the pipeline")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port, got %d", cfg.Server.Port)
	}
	if cfg.CacheTTL() != 15*time.Minute {
		t.Fatalf("expected 15m ttl, got %v", cfg.CacheTTL())
	}
	if cfg.Cache.Backend != "memory" || cfg.Headless.Enabled {
		t.Fatalf("unexpected defaults: cache=%q headless=%v", cfg.Cache.Backend, cfg.Headless.Enabled)
	}
	chain := cfg.ProviderChain()
	if len(chain) != 3 || chain[0].Name != "thumio" || chain[2].Name != "microlink" {
		t.Fatalf("expected built-in chain, got %+v", chain)
	}
	pipeline := cfg.Pipeline()
	if pipeline.ResolveTimeout != 3*time.Second || pipeline.Width != 400 || pipeline.Height != 300 {
		t.Fatalf("unexpected pipeline defaults: %+v", pipeline)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PREVIEW_SERVER_PORT", "7070")
	t.Setenv("PREVIEW_SCREENSHOT_DEDUPE_INFLIGHT", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port override, got %d", cfg.Server.Port)
	}
	if !cfg.Screenshot.DedupeInFlight {
		t.Fatal("expected env dedupe override")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"ttl", func(c *Config) { c.Screenshot.TTLSeconds = 0 }, "ttl_seconds"},
		{"cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"redis addr", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.Redis.Addr = "" }, "cache.redis.addr"},
		{"headless parallel", func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxParallel = 0 }, "max_parallel"},
		{"gcs bucket", func(c *Config) { c.Headless.Enabled = true; c.Storage.Backend = "gcs" }, "gcs_bucket"},
		{"pubsub pair", func(c *Config) { c.PubSub.ProjectID = "p" }, "pubsub"},
		{"provider rps", func(c *Config) { c.Screenshot.ProviderRPS = -1 }, "provider_rps"},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }, "sample_ratio"},
		{"provider template", func(c *Config) {
			c.Screenshot.Providers = append(c.Screenshot.Providers, screenshot.ProviderSpec{Name: "x", URLTemplate: "https://static.test/img.png"})
		}, "url_template"},
	}
	for _, tc := range testCases {
		cfg := base
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
