// Package config loads and validates previewd configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/eligetuhosting/previewd/internal/policy/ratelimit"
	"github.com/eligetuhosting/previewd/internal/screenshot"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	DNS        DNSConfig        `mapstructure:"dns"`
	Favicon    FaviconConfig    `mapstructure:"favicon"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	HTTP       HTTPConfig       `mapstructure:"http"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownSeconds       int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScreenshotConfig tunes the capture pipeline.
type ScreenshotConfig struct {
	TTLSeconds           int                       `mapstructure:"ttl_seconds"`
	DedupeInFlight       bool                      `mapstructure:"dedupe_inflight"`
	SweepIntervalSeconds int                       `mapstructure:"sweep_interval_seconds"`
	Width                int                       `mapstructure:"width"`
	Height               int                       `mapstructure:"height"`
	ProviderRPS          float64                   `mapstructure:"provider_rps"`
	ProviderBurst        int                       `mapstructure:"provider_burst"`
	Providers            []screenshot.ProviderSpec `mapstructure:"providers"`
}

// DNSConfig configures the DNS-over-HTTPS reachability check.
type DNSConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// FaviconConfig configures the fallback favicon lookup.
type FaviconConfig struct {
	URLTemplate string `mapstructure:"url_template"`
	TimeoutMs   int    `mapstructure:"timeout_ms"`
	Discover    bool   `mapstructure:"discover"`
}

// CacheConfig selects and configures the capture cache.
type CacheConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds go-redis connection settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// HeadlessConfig configures the optional self-hosted renderer.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	SettleMs      int  `mapstructure:"settle_ms"`
}

// StorageConfig selects where rendered screenshots are written.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	LocalDir      string `mapstructure:"local_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	Prefix        string `mapstructure:"prefix"`
	CacheControl  string `mapstructure:"cache_control"`
}

// DBConfig controls access to the capture history database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
	LifetimeMins int    `mapstructure:"conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for capture notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// HTTPConfig configures outbound HTTP clients.
type HTTPConfig struct {
	UserAgent     string `mapstructure:"user_agent"`
	MaxImageBytes int64  `mapstructure:"max_image_bytes"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PREVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_seconds", 10)
	v.SetDefault("screenshot.ttl_seconds", int(screenshot.DefaultCacheTTL/time.Second))
	v.SetDefault("screenshot.dedupe_inflight", false)
	v.SetDefault("screenshot.sweep_interval_seconds", 300)
	v.SetDefault("screenshot.width", screenshot.DefaultWidth)
	v.SetDefault("screenshot.height", screenshot.DefaultHeight)
	v.SetDefault("screenshot.provider_rps", 0)
	v.SetDefault("screenshot.provider_burst", 5)
	v.SetDefault("dns.endpoint", "https://dns.google/resolve")
	v.SetDefault("dns.timeout_ms", int(screenshot.DefaultResolveTimeout/time.Millisecond))
	v.SetDefault("favicon.url_template", screenshot.FaviconTemplate)
	v.SetDefault("favicon.timeout_ms", int(screenshot.DefaultFaviconTimeout/time.Millisecond))
	v.SetDefault("favicon.discover", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.key_prefix", "screenshot:")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 15)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "data/renders")
	v.SetDefault("storage.public_base_url", "http://localhost:8080/renders")
	v.SetDefault("storage.prefix", "renders")
	v.SetDefault("storage.cache_control", "public, max-age=900")
	v.SetDefault("db.table", "screenshot_captures")
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "previewd")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("http.user_agent", "EligeTuHosting-Preview/1.0 (+https://eligetuhosting.cl)")
	v.SetDefault("http.max_image_bytes", 8<<20)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Screenshot.TTLSeconds <= 0 {
		return errors.New("screenshot.ttl_seconds must be > 0")
	}
	if c.Screenshot.SweepIntervalSeconds < 0 {
		return errors.New("screenshot.sweep_interval_seconds must be >= 0")
	}
	if c.Screenshot.Width <= 0 || c.Screenshot.Height <= 0 {
		return errors.New("screenshot.width and screenshot.height must be > 0")
	}
	if c.Screenshot.ProviderRPS < 0 || c.Screenshot.ProviderBurst < 0 {
		return errors.New("screenshot.provider_rps and screenshot.provider_burst must be >= 0")
	}
	for i, p := range c.Screenshot.Providers {
		if p.Name == "" || p.URLTemplate == "" {
			return fmt.Errorf("screenshot.providers[%d] needs name and url_template", i)
		}
		if !strings.Contains(p.URLTemplate, "{domain}") && !strings.Contains(p.URLTemplate, "{url}") {
			return fmt.Errorf("screenshot.providers[%d].url_template must reference {domain} or {url}", i)
		}
		if p.RPS < 0 {
			return fmt.Errorf("screenshot.providers[%d].rps must be >= 0", i)
		}
	}
	if c.DNS.TimeoutMs <= 0 || c.Favicon.TimeoutMs <= 0 {
		return errors.New("dns.timeout_ms and favicon.timeout_ms must be > 0")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return errors.New("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend %q must be memory or redis", c.Cache.Backend)
	}
	if c.Headless.Enabled {
		if c.Headless.MaxParallel <= 0 {
			return errors.New("headless.max_parallel must be > 0 when headless is enabled")
		}
		switch c.Storage.Backend {
		case "local":
			if c.Storage.LocalDir == "" || c.Storage.PublicBaseURL == "" {
				return errors.New("storage.local_dir and storage.public_base_url are required for local storage")
			}
		case "gcs":
			if c.Storage.GCSBucket == "" {
				return errors.New("storage.gcs_bucket is required for gcs storage")
			}
		default:
			return fmt.Errorf("storage.backend %q must be local or gcs", c.Storage.Backend)
		}
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return errors.New("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing.sample_ratio must be within [0,1]")
	}
	return nil
}

// CacheTTL returns the capture cache lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Screenshot.TTLSeconds) * time.Second
}

// SweepInterval returns the janitor period; zero disables it.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Screenshot.SweepIntervalSeconds) * time.Second
}

// Pipeline converts the relevant sections into a screenshot.Config.
func (c Config) Pipeline() screenshot.Config {
	return screenshot.Config{
		ResolveTimeout:  time.Duration(c.DNS.TimeoutMs) * time.Millisecond,
		FaviconTimeout:  time.Duration(c.Favicon.TimeoutMs) * time.Millisecond,
		FaviconTemplate: c.Favicon.URLTemplate,
		RenderTimeout:   time.Duration(c.Headless.NavTimeoutSec)*time.Second + time.Duration(c.Headless.SettleMs)*time.Millisecond,
		Width:           c.Screenshot.Width,
		Height:          c.Screenshot.Height,
		DedupeInFlight:  c.Screenshot.DedupeInFlight,
	}
}

// ProviderChain returns the configured providers, or the built-in chain.
func (c Config) ProviderChain() []screenshot.Provider {
	return screenshot.ProvidersFromSpecs(c.Screenshot.Providers, c.Screenshot.Width, c.Screenshot.Height)
}

// ProviderLimits returns the per-provider request budget.
func (c Config) ProviderLimits() ratelimit.Config {
	perKey := make(map[string]float64)
	for _, p := range c.Screenshot.Providers {
		if p.RPS > 0 {
			perKey[p.Name] = p.RPS
		}
	}
	return ratelimit.Config{
		DefaultRPS:   c.Screenshot.ProviderRPS,
		DefaultBurst: c.Screenshot.ProviderBurst,
		PerKeyRPS:    perKey,
	}
}
