// Package app builds the long-lived services of previewd from configuration
// and owns their shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/eligetuhosting/previewd/internal/api"
	memorycache "github.com/eligetuhosting/previewd/internal/cache/memory"
	rediscache "github.com/eligetuhosting/previewd/internal/cache/redis"
	"github.com/eligetuhosting/previewd/internal/clock/system"
	"github.com/eligetuhosting/previewd/internal/config"
	collyicon "github.com/eligetuhosting/previewd/internal/favicon/colly"
	"github.com/eligetuhosting/previewd/internal/id/uuid"
	"github.com/eligetuhosting/previewd/internal/metrics"
	"github.com/eligetuhosting/previewd/internal/policy/ratelimit"
	"github.com/eligetuhosting/previewd/internal/probe"
	"github.com/eligetuhosting/previewd/internal/progress"
	"github.com/eligetuhosting/previewd/internal/progress/sinks"
	pubsubpublisher "github.com/eligetuhosting/previewd/internal/publisher/pubsub"
	"github.com/eligetuhosting/previewd/internal/render/headless"
	"github.com/eligetuhosting/previewd/internal/resolver/doh"
	"github.com/eligetuhosting/previewd/internal/screenshot"
	"github.com/eligetuhosting/previewd/internal/storage/gcs"
	"github.com/eligetuhosting/previewd/internal/storage/local"
	"github.com/eligetuhosting/previewd/internal/storage/postgres"
	"github.com/eligetuhosting/previewd/internal/telemetry"
)

// App holds the shared services of one process. It is built once at startup
// and closed once on exit.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	service *screenshot.Service
	hub     *progress.Hub
	history *postgres.CaptureStore
	renders http.Handler
	checks  []api.Check
	closers []func(context.Context) error
}

// New creates every configured backend and the capture service. Partial
// construction is undone when a later step fails.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx, reg); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("cache", cfg.Cache.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Bool("history", a.history != nil),
		zap.Bool("pubsub", cfg.PubSub.TopicName != ""),
	)
	return a, nil
}

func (a *App) build(ctx context.Context, reg prometheus.Registerer) error {
	cfg := a.cfg
	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		a.onClose(func(ctx context.Context) error { return shutdownTracer(ctx, tp) })
	}

	clock := system.New()
	cache, err := a.buildCache(clock)
	if err != nil {
		return err
	}

	hubSinks, err := a.buildSinks(ctx, reg)
	if err != nil {
		return err
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress")}, hubSinks...)
	// Registered after the backends the sinks write to, so it closes first.
	a.onClose(a.hub.Close)

	deps := screenshot.Deps{
		Cache: cache,
		Resolver: doh.New(doh.Config{
			Endpoint:  cfg.DNS.Endpoint,
			UserAgent: cfg.HTTP.UserAgent,
		}),
		Prober: probe.New(probe.Config{
			UserAgent: cfg.HTTP.UserAgent,
			MaxBytes:  cfg.HTTP.MaxImageBytes,
		}),
		Clock:     clock,
		Providers: cfg.ProviderChain(),
		Throttle:  ratelimit.New(cfg.ProviderLimits()),
		IDs:       uuid.New(),
		Events:    a.hub,
	}
	if cfg.Favicon.Discover {
		deps.Icons = collyicon.New(collyicon.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   time.Duration(cfg.Favicon.TimeoutMs) * time.Millisecond,
		})
	}
	if cfg.Headless.Enabled {
		renderer, err := a.buildRenderer(ctx)
		if err != nil {
			return err
		}
		deps.Renderer = renderer
	}

	svc, err := screenshot.New(cfg.Pipeline(), deps, a.logger.Named("screenshot"))
	if err != nil {
		return fmt.Errorf("init screenshot service: %w", err)
	}
	a.service = svc
	return nil
}

func (a *App) buildCache(clock screenshot.Clock) (screenshot.Cache, error) {
	cfg := a.cfg
	switch cfg.Cache.Backend {
	case "", "memory":
		return memorycache.New(cfg.CacheTTL(), clock), nil
	case "redis":
		redisCfg := rediscache.Config{
			Addr:      cfg.Cache.Redis.Addr,
			Password:  cfg.Cache.Redis.Password,
			DB:        cfg.Cache.Redis.DB,
			KeyPrefix: cfg.Cache.Redis.KeyPrefix,
			TTL:       cfg.CacheTTL(),
		}
		client := rediscache.NewClient(redisCfg)
		a.onClose(func(context.Context) error { return client.Close() })
		cache, err := rediscache.New(client, redisCfg, clock)
		if err != nil {
			return nil, fmt.Errorf("init redis cache: %w", err)
		}
		a.checks = append(a.checks, api.Check{Name: "redis", Pinger: cache})
		return cache, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func (a *App) buildSinks(ctx context.Context, reg prometheus.Registerer) ([]progress.Sink, error) {
	cfg := a.cfg
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	out := []progress.Sink{sinks.NewLogSink(a.logger.Named("capture")), promSink}

	if cfg.DB.DSN != "" {
		captures, err := postgres.NewCaptureStore(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.LifetimeMins) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("init capture store: %w", err)
		}
		a.onClose(func(context.Context) error {
			captures.Close()
			return nil
		})
		if cfg.DB.AutoMigrate {
			if err := captures.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate capture store: %w", err)
			}
		}
		a.history = captures
		a.checks = append(a.checks, api.Check{Name: "postgres", Pinger: captures})
		out = append(out, sinks.NewStoreSink(captures, a.logger.Named("store")))
	}

	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		pub, err := pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName), a.logger.Named("pubsub"))
		if err != nil {
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		out = append(out, pub)
	}
	return out, nil
}

func (a *App) buildRenderer(ctx context.Context) (*headless.Renderer, error) {
	cfg := a.cfg
	var blobs screenshot.BlobStore
	switch cfg.Storage.Backend {
	case "", "local":
		store, err := local.New(local.Config{
			BaseDir:       cfg.Storage.LocalDir,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init local render store: %w", err)
		}
		a.renders = store.Handler()
		blobs = store
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		store, err := gcs.New(client, gcs.Config{
			Bucket:        cfg.Storage.GCSBucket,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
			CacheControl:  cfg.Storage.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("init gcs render store: %w", err)
		}
		a.checks = append(a.checks, api.Check{Name: "gcs", Pinger: store})
		blobs = store
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	renderer, err := headless.New(headless.Config{
		Width:             cfg.Screenshot.Width,
		Height:            cfg.Screenshot.Height,
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.HTTP.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		Settle:            time.Duration(cfg.Headless.SettleMs) * time.Millisecond,
		PathPrefix:        cfg.Storage.Prefix,
	}, blobs, uuid.New())
	if err != nil {
		return nil, fmt.Errorf("init headless renderer: %w", err)
	}
	a.onClose(func(context.Context) error {
		renderer.Close()
		return nil
	})
	return renderer, nil
}

// Service returns the capture service.
func (a *App) Service() *screenshot.Service {
	return a.service
}

// Server builds the HTTP API over the app's services.
func (a *App) Server() *api.Server {
	opts := api.Options{Renders: a.renders, Checks: a.checks}
	if a.history != nil {
		opts.History = a.history
	}
	return api.NewServer(a.service, a.cfg, a.logger.Named("api"), opts)
}

// RunJanitor sweeps expired cache entries every cfg.SweepInterval() until
// ctx ends. A zero interval disables it.
func (a *App) RunJanitor(ctx context.Context) {
	runJanitor(ctx, a.cfg.SweepInterval(), a.service, a.logger.Named("janitor"))
}

type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

func runJanitor(ctx context.Context, interval time.Duration, s sweeper, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	metrics.Init()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			metrics.ObserveSweep(removed, err)
			if err != nil {
				logger.Warn("cache sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("cache swept", zap.Int("removed", removed))
			}
		}
	}
}

// Close shuts services down in reverse construction order, so the event hub
// drains into its sinks before their backends disappear.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func shutdownTracer(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

// Capture runs one capture through the service.
func (a *App) Capture(ctx context.Context, domain string) screenshot.Result {
	return a.service.Capture(ctx, domain)
}
