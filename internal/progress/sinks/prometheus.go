package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eligetuhosting/previewd/internal/progress"
)

// PrometheusSink exports capture metrics. Labels are bounded: provider names
// come from config and outcomes from a fixed set, so domains are never used
// as label values.
type PrometheusSink struct {
	captures        *prometheus.CounterVec
	captureDuration *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	reachability    *prometheus.CounterVec

	providerAttempts *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec

	renders  *prometheus.CounterVec
	favicons *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "previewd_captures_total",
			Help: "Completed captures partitioned by outcome.",
		}, []string{"outcome"}),
		captureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "previewd_capture_duration_seconds",
			Help:    "Wall time per capture.",
			Buckets: []float64{0.005, 0.05, 0.25, 0.5, 1, 2, 4, 8, 12, 16},
		}, []string{"outcome"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "previewd_cache_hits_total",
			Help: "Captures served from the cache.",
		}),
		reachability: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "previewd_reachability_checks_total",
			Help: "DNS pre-checks partitioned by outcome.",
		}, []string{"outcome"}),
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "previewd_provider_attempts_total",
			Help: "Screenshot provider attempts partitioned by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "previewd_provider_duration_seconds",
			Help:    "Provider attempt latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 4, 5},
		}, []string{"provider"}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "previewd_renders_total",
			Help: "Headless renders partitioned by outcome.",
		}, []string{"outcome"}),
		favicons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "previewd_favicon_lookups_total",
			Help: "Fallback favicon lookups partitioned by outcome.",
		}, []string{"outcome"}),
	}
	for _, collector := range []prometheus.Collector{
		s.captures,
		s.captureDuration,
		s.cacheHits,
		s.reachability,
		s.providerAttempts,
		s.providerDuration,
		s.renders,
		s.favicons,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register capture collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	outcome := string(evt.Outcome)
	switch evt.Stage {
	case progress.StageCacheHit:
		s.cacheHits.Inc()
	case progress.StageReachability:
		s.reachability.WithLabelValues(outcome).Inc()
	case progress.StageProvider:
		s.providerAttempts.WithLabelValues(evt.Provider, outcome).Inc()
		if evt.Dur > 0 {
			s.providerDuration.WithLabelValues(evt.Provider).Observe(evt.Dur.Seconds())
		}
	case progress.StageRender:
		s.renders.WithLabelValues(outcome).Inc()
	case progress.StageFavicon:
		s.favicons.WithLabelValues(outcome).Inc()
	case progress.StageCaptureDone:
		s.captures.WithLabelValues(outcome).Inc()
		s.captureDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
