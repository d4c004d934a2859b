package screenshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/eligetuhosting/previewd/internal/progress"
)

const tracerName = "github.com/eligetuhosting/previewd/internal/screenshot"

// Config tunes the pipeline timeouts and optional behaviors.
type Config struct {
	ResolveTimeout  time.Duration
	FaviconTimeout  time.Duration
	FaviconTemplate string
	RenderTimeout   time.Duration
	Width           int
	Height          int
	// DedupeInFlight collapses concurrent captures of the same domain into a
	// single pipeline run.
	DedupeInFlight bool
}

// Deps are the collaborators of a Service. Cache, Resolver, Prober and Clock
// are required; the rest are optional.
type Deps struct {
	Cache     Cache
	Resolver  Resolver
	Prober    ImageProber
	Clock     Clock
	Providers []Provider
	Icons     IconDiscoverer
	Renderer  Renderer
	Throttle  Throttle
	IDs       CaptureIDGenerator
	Events    progress.Emitter
	Tracer    trace.Tracer
}

// Service produces preview URLs for domains. It is safe for concurrent use.
type Service struct {
	cfg       Config
	cache     Cache
	resolver  Resolver
	prober    ImageProber
	clock     Clock
	providers []Provider
	icons     IconDiscoverer
	renderer  Renderer
	throttle  Throttle
	ids       CaptureIDGenerator
	events    progress.Emitter
	tracer    trace.Tracer
	logger    *zap.Logger
	inflight  singleflight.Group
}

// New validates deps and builds a Service.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Cache == nil:
		return nil, errors.New("screenshot: cache is required")
	case deps.Resolver == nil:
		return nil, errors.New("screenshot: resolver is required")
	case deps.Prober == nil:
		return nil, errors.New("screenshot: prober is required")
	case deps.Clock == nil:
		return nil, errors.New("screenshot: clock is required")
	}
	providers := append([]Provider(nil), deps.Providers...)
	if len(providers) == 0 {
		providers = DefaultProviders(cfg.Width, cfg.Height)
	}
	for i, p := range providers {
		if p.Name == "" || p.BuildURL == nil {
			return nil, fmt.Errorf("screenshot: provider %d is missing a name or url builder", i)
		}
		if p.Timeout <= 0 {
			providers[i].Timeout = DefaultProviderTimeout
		}
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	if cfg.FaviconTimeout <= 0 {
		cfg.FaviconTimeout = DefaultFaviconTimeout
	}
	if cfg.FaviconTemplate == "" {
		cfg.FaviconTemplate = FaviconTemplate
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 20 * time.Second
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		cache:     deps.Cache,
		resolver:  deps.Resolver,
		prober:    deps.Prober,
		clock:     deps.Clock,
		providers: providers,
		icons:     deps.Icons,
		renderer:  deps.Renderer,
		throttle:  deps.Throttle,
		ids:       deps.IDs,
		events:    deps.Events,
		tracer:    tracer,
		logger:    logger,
	}, nil
}

// Providers returns the configured chain in attempt order.
func (s *Service) Providers() []Provider {
	return append([]Provider(nil), s.providers...)
}

// Capture returns a preview for domain. It never fails: every problem is
// folded into a failure Result carrying fallback data.
func (s *Service) Capture(ctx context.Context, domain string) Result {
	host, err := NormalizeDomain(domain)
	if err != nil {
		title := strings.TrimSpace(domain)
		return Failure(title, err.Error(), &Fallback{Title: title, Description: describe(title)})
	}
	if !s.cfg.DedupeInFlight {
		return s.capture(ctx, host)
	}
	// The shared run outlives any single caller; each caller only stops
	// waiting when its own ctx ends.
	ch := s.inflight.DoChan(host, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runBudget())
		defer cancel()
		return s.capture(runCtx, host), nil
	})
	select {
	case r := <-ch:
		if r.Shared {
			s.logger.Debug("joined in-flight capture", zap.String("domain", host))
		}
		res, _ := r.Val.(Result)
		return res
	case <-ctx.Done():
		reason := fmt.Errorf("%w: %w", ErrCaptureCancelled, ctx.Err())
		return Failure(host, reason.Error(), &Fallback{Title: host, Description: describe(host)})
	}
}

// runBudget bounds a shared run by the sum of every stage timeout.
func (s *Service) runBudget() time.Duration {
	budget := s.cfg.ResolveTimeout + s.cfg.FaviconTimeout
	for _, p := range s.providers {
		budget += p.Timeout
	}
	if s.renderer != nil {
		budget += s.cfg.RenderTimeout
	}
	return budget
}

// Sweep drops expired cache entries and reports how many were removed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	n, err := s.cache.SweepExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep cache: %w", err)
	}
	return n, nil
}

func (s *Service) capture(ctx context.Context, domain string) Result {
	run := captureRun{
		id:     s.newCaptureID(),
		domain: domain,
		start:  s.clock.Now(),
	}
	ctx, span := s.tracer.Start(ctx, "screenshot.capture", trace.WithAttributes(attribute.String("domain", domain)))
	defer span.End()
	s.emit(run, progress.Event{Stage: progress.StageCaptureStart})

	if entry, ok := s.lookup(ctx, domain); ok {
		s.emit(run, progress.Event{Stage: progress.StageCacheHit, Provider: entry.Provider, Outcome: progress.OutcomeOK})
		res := Success(domain, entry.ImageURL, entry.Provider)
		res.FromCache = true
		return s.finish(run, span, res)
	}

	reachable := s.reachable(ctx, run)
	reason := ErrUnreachable
	if reachable {
		if res, ok := s.runProviders(ctx, run); ok {
			return s.finish(run, span, res)
		}
		if ctx.Err() != nil {
			reason = fmt.Errorf("%w: %w", ErrCaptureCancelled, ctx.Err())
		} else {
			reason = ErrAllProvidersExhausted
			if res, ok := s.render(ctx, run); ok {
				return s.finish(run, span, res)
			}
		}
	}
	return s.finish(run, span, s.fallback(ctx, run, reachable, reason))
}

func (s *Service) newCaptureID() [16]byte {
	if s.ids != nil {
		id, err := s.ids.NewCaptureID()
		if err == nil {
			return id
		}
		s.logger.Warn("capture id generation failed", zap.Error(err))
	}
	return progress.UUIDToBytes(uuid.New())
}

type captureRun struct {
	id     [16]byte
	domain string
	start  time.Time
}

func (s *Service) lookup(ctx context.Context, domain string) (CacheEntry, bool) {
	entry, ok, err := s.cache.Get(ctx, domain)
	if err != nil {
		s.logger.Warn("cache lookup failed", zap.String("domain", domain), zap.Error(err))
		return CacheEntry{}, false
	}
	if !ok || entry.ImageURL == "" {
		return CacheEntry{}, false
	}
	return entry, true
}

func (s *Service) reachable(ctx context.Context, run captureRun) bool {
	ctx, span := s.tracer.Start(ctx, "screenshot.reachability")
	defer span.End()

	resolveCtx, cancel := context.WithTimeout(ctx, s.cfg.ResolveTimeout)
	defer cancel()
	started := s.clock.Now()
	ok, err := s.resolver.Reachable(resolveCtx, run.domain)
	outcome := progress.OutcomeOK
	note := ""
	switch {
	case err != nil:
		outcome = progress.OutcomeError
		note = err.Error()
		span.RecordError(err)
		s.logger.Debug("reachability check failed", zap.String("domain", run.domain), zap.Error(err))
	case !ok:
		outcome = progress.OutcomeUnreachable
	}
	s.emit(run, progress.Event{
		Stage:   progress.StageReachability,
		Outcome: outcome,
		Dur:     s.since(started),
		Note:    note,
	})
	return err == nil && ok
}

func (s *Service) runProviders(ctx context.Context, run captureRun) (Result, bool) {
	for _, p := range s.providers {
		if ctx.Err() != nil {
			return Result{}, false
		}
		imageURL := p.BuildURL(run.domain)
		started := s.clock.Now()
		var err error
		if s.throttle != nil && !s.throttle.Allow(p.Name) {
			err = ErrProviderThrottled
		} else {
			err = s.attempt(ctx, p, imageURL)
		}
		s.emit(run, progress.Event{
			Stage:    progress.StageProvider,
			Provider: p.Name,
			Outcome:  attemptOutcome(err),
			Dur:      s.since(started),
		})
		if err != nil {
			s.logger.Debug("screenshot provider failed",
				zap.String("domain", run.domain),
				zap.String("provider", p.Name),
				zap.Error(err),
			)
			continue
		}
		s.remember(ctx, CacheEntry{
			Domain:     run.domain,
			ImageURL:   imageURL,
			Provider:   p.Name,
			CapturedAt: s.clock.Now(),
		})
		return Success(run.domain, imageURL, p.Name), true
	}
	return Result{}, false
}

func (s *Service) attempt(ctx context.Context, p Provider, imageURL string) error {
	ctx, span := s.tracer.Start(ctx, "screenshot.provider", trace.WithAttributes(attribute.String("provider", p.Name)))
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	err := classifyAttempt(attemptCtx, probeWithin(attemptCtx, s.prober, imageURL))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// probeWithin runs the probe but stops waiting once ctx ends. A probe that
// completes later writes into a buffered channel nobody reads, so it cannot
// affect a capture that already moved on.
func probeWithin(ctx context.Context, prober ImageProber, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- prober.Probe(ctx, target)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) render(ctx context.Context, run captureRun) (Result, bool) {
	if s.renderer == nil {
		return Result{}, false
	}
	ctx, span := s.tracer.Start(ctx, "screenshot.render")
	defer span.End()

	renderCtx, cancel := context.WithTimeout(ctx, s.cfg.RenderTimeout)
	defer cancel()
	started := s.clock.Now()
	imageURL, err := s.renderer.Render(renderCtx, run.domain)
	evt := progress.Event{Stage: progress.StageRender, Provider: RendererProvider, Outcome: progress.OutcomeOK, Dur: s.since(started)}
	if err != nil {
		evt.Outcome = progress.OutcomeError
		evt.Note = err.Error()
		s.emit(run, evt)
		span.RecordError(err)
		s.logger.Info("headless render failed", zap.String("domain", run.domain), zap.Error(err))
		return Result{}, false
	}
	s.emit(run, evt)
	s.remember(ctx, CacheEntry{
		Domain:     run.domain,
		ImageURL:   imageURL,
		Provider:   RendererProvider,
		CapturedAt: s.clock.Now(),
	})
	return Success(run.domain, imageURL, RendererProvider), true
}

// RendererProvider is the provider name reported for locally rendered previews.
const RendererProvider = "headless"

func (s *Service) remember(ctx context.Context, entry CacheEntry) {
	if err := s.cache.Put(ctx, entry); err != nil {
		s.logger.Warn("cache write failed", zap.String("domain", entry.Domain), zap.Error(err))
	}
}

func (s *Service) fallback(ctx context.Context, run captureRun, reachable bool, reason error) Result {
	ctx, span := s.tracer.Start(ctx, "screenshot.fallback")
	defer span.End()

	fb := &Fallback{Title: run.domain, Description: describe(run.domain)}
	started := s.clock.Now()
	favicon, err := s.favicon(ctx, run.domain, reachable)
	evt := progress.Event{Stage: progress.StageFavicon, Outcome: progress.OutcomeOK, Dur: s.since(started)}
	if err != nil {
		evt.Outcome = progress.OutcomeError
		evt.Note = err.Error()
	} else {
		fb.FaviconURL = favicon
	}
	s.emit(run, evt)
	return Failure(run.domain, reason.Error(), fb)
}

func (s *Service) favicon(ctx context.Context, domain string, reachable bool) (string, error) {
	faviconCtx, cancel := context.WithTimeout(ctx, s.cfg.FaviconTimeout)
	defer cancel()

	candidate := ExpandTemplate(s.cfg.FaviconTemplate, domain, s.cfg.Width, s.cfg.Height)
	err := probeWithin(faviconCtx, s.prober, candidate)
	if err == nil {
		return candidate, nil
	}
	if !reachable || s.icons == nil || faviconCtx.Err() != nil {
		return "", fmt.Errorf("%w: %v", ErrFaviconUnavailable, err)
	}
	discovered, derr := s.icons.Discover(faviconCtx, domain)
	if derr != nil {
		return "", fmt.Errorf("%w: %v", ErrFaviconUnavailable, derr)
	}
	if perr := probeWithin(faviconCtx, s.prober, discovered); perr != nil {
		return "", fmt.Errorf("%w: %v", ErrFaviconUnavailable, perr)
	}
	return discovered, nil
}

func (s *Service) finish(run captureRun, span trace.Span, res Result) Result {
	evt := progress.Event{
		Stage:       progress.StageCaptureDone,
		Provider:    res.Provider,
		Outcome:     progress.OutcomeOK,
		Dur:         s.since(run.start),
		SpanContext: span.SpanContext(),
	}
	if !res.OK() {
		evt.Outcome = progress.OutcomeFallback
		evt.Note = res.Reason
		span.SetStatus(codes.Error, res.Reason)
	}
	span.SetAttributes(
		attribute.String("result.kind", string(res.Kind)),
		attribute.String("result.provider", res.Provider),
		attribute.Bool("result.from_cache", res.FromCache),
	)
	s.emit(run, evt)
	return res
}

func (s *Service) emit(run captureRun, evt progress.Event) {
	if s.events == nil {
		return
	}
	evt.CaptureID = run.id
	evt.Domain = run.domain
	evt.TS = s.clock.Now()
	s.events.Emit(evt)
}

func (s *Service) since(t time.Time) time.Duration {
	d := s.clock.Now().Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

func attemptOutcome(err error) progress.Outcome {
	switch {
	case err == nil:
		return progress.OutcomeOK
	case errors.Is(err, ErrProviderTimeout):
		return progress.OutcomeTimeout
	case errors.Is(err, ErrProviderThrottled):
		return progress.OutcomeThrottled
	default:
		return progress.OutcomeError
	}
}
