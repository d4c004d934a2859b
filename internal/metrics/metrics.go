// Package metrics exposes Prometheus collectors for the HTTP surface and the
// cache janitor.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	httpInFlight               prometheus.Gauge
	cacheSweptTotal            prometheus.Counter
	cacheSweepErrorsTotal      prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "previewd_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "previewd_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 4, 8, 15},
			},
			[]string{"method", "route"},
		)

		httpInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "previewd_http_in_flight_requests",
				Help: "Number of HTTP requests currently being served.",
			},
		)

		cacheSweptTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "previewd_cache_swept_total",
				Help: "Total number of expired cache entries removed by the janitor.",
			},
		)

		cacheSweepErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "previewd_cache_sweep_errors_total",
				Help: "Total number of failed cache sweeps.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSweep records the outcome of one cache sweep.
func ObserveSweep(removed int, err error) {
	if err != nil {
		cacheSweepErrorsTotal.Inc()
		return
	}
	cacheSweptTotal.Add(float64(removed))
}
