package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/eligetuhosting/previewd/internal/progress"
)

func captureBatch(id [16]byte, now time.Time) []progress.Event {
	return []progress.Event{
		{CaptureID: id, TS: now, Domain: "example.cl", Stage: progress.StageCaptureStart},
		{CaptureID: id, TS: now, Domain: "example.cl", Stage: progress.StageReachability, Outcome: progress.OutcomeOK, Dur: 80 * time.Millisecond},
		{CaptureID: id, TS: now, Domain: "example.cl", Stage: progress.StageProvider, Provider: "thumio", Outcome: progress.OutcomeTimeout, Dur: 4 * time.Second},
		{CaptureID: id, TS: now, Domain: "example.cl", Stage: progress.StageProvider, Provider: "mshots", Outcome: progress.OutcomeOK, Dur: 1200 * time.Millisecond},
		{CaptureID: id, TS: now.Add(5 * time.Second), Domain: "example.cl", Stage: progress.StageCaptureDone, Provider: "mshots", Outcome: progress.OutcomeOK, Dur: 5300 * time.Millisecond},
	}
}

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := progress.UUIDToBytes(uuid.New())
	batch := captureBatch(id, time.Now())
	batch = append(batch,
		progress.Event{CaptureID: id, TS: time.Now(), Domain: "example.cl", Stage: progress.StageCacheHit, Provider: "mshots", Outcome: progress.OutcomeOK},
		progress.Event{CaptureID: id, TS: time.Now(), Domain: "other.cl", Stage: progress.StageFavicon, Outcome: progress.OutcomeError},
	)
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.captures.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.cacheHits))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.reachability.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.providerAttempts.WithLabelValues("thumio", "timeout")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.providerAttempts.WithLabelValues("mshots", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.favicons.WithLabelValues("error")))
	require.Equal(t, 2, testutil.CollectAndCount(sink.providerDuration, "previewd_provider_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.captureDuration, "previewd_capture_duration_seconds"))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
