package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/eligetuhosting/previewd/internal/progress"
	"github.com/eligetuhosting/previewd/internal/store"
)

func TestStoreSinkRecordsCompletedCapture(t *testing.T) {
	t.Parallel()

	repo := &fakeCaptureRepo{}
	sink := NewStoreSink(repo, nil)
	id := uuid.New()
	now := time.Unix(1700000000, 0).UTC()
	batch := captureBatch(progress.UUIDToBytes(id), now)

	// The capture spans two batches.
	require.NoError(t, sink.Consume(context.Background(), batch[:3]))
	require.Empty(t, repo.records)
	require.NoError(t, sink.Consume(context.Background(), batch[3:]))

	require.Len(t, repo.records, 1)
	rec := repo.records[0]
	require.Equal(t, id, rec.ID)
	require.Equal(t, "example.cl", rec.Domain)
	require.Equal(t, store.OutcomeSuccess, rec.Outcome)
	require.Equal(t, "mshots", rec.Provider)
	require.Equal(t, 2, rec.Attempts)
	require.Equal(t, now, rec.StartedAt)
	require.Equal(t, now.Add(5*time.Second), rec.FinishedAt)
	require.Nil(t, rec.Reason)
	require.Empty(t, sink.pending)
}

func TestStoreSinkRecordsFallbackReason(t *testing.T) {
	t.Parallel()

	repo := &fakeCaptureRepo{}
	sink := NewStoreSink(repo, nil)
	id := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CaptureID: id, TS: now, Domain: "nowhere.cl", Stage: progress.StageCaptureStart},
		{CaptureID: id, TS: now, Domain: "nowhere.cl", Stage: progress.StageReachability, Outcome: progress.OutcomeUnreachable},
		{CaptureID: id, TS: now, Domain: "nowhere.cl", Stage: progress.StageCaptureDone, Outcome: progress.OutcomeFallback, Note: "domain did not resolve"},
	}))

	require.Len(t, repo.records, 1)
	rec := repo.records[0]
	require.Equal(t, store.OutcomeFallback, rec.Outcome)
	require.Zero(t, rec.Attempts)
	require.NotNil(t, rec.Reason)
	require.Equal(t, "domain did not resolve", *rec.Reason)
}

func TestStoreSinkMarksCacheHits(t *testing.T) {
	t.Parallel()

	repo := &fakeCaptureRepo{}
	sink := NewStoreSink(repo, nil)
	id := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CaptureID: id, TS: now, Domain: "example.cl", Stage: progress.StageCaptureStart},
		{CaptureID: id, TS: now, Domain: "example.cl", Stage: progress.StageCacheHit, Provider: "thumio", Outcome: progress.OutcomeOK},
		{CaptureID: id, TS: now, Domain: "example.cl", Stage: progress.StageCaptureDone, Provider: "thumio", Outcome: progress.OutcomeOK},
	}))
	require.True(t, repo.records[0].FromCache)
}

func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeCaptureRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), captureBatch(progress.UUIDToBytes(uuid.New()), time.Now()))
	require.ErrorContains(t, err, "record capture")
}

func TestStoreSinkCloseDropsPending(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(&fakeCaptureRepo{}, nil)
	batch := captureBatch(progress.UUIDToBytes(uuid.New()), time.Now())
	require.NoError(t, sink.Consume(context.Background(), batch[:2]))
	require.Len(t, sink.pending, 1)
	require.NoError(t, sink.Close(context.Background()))
	require.Empty(t, sink.pending)
}

type fakeCaptureRepo struct {
	mu      sync.Mutex
	fail    bool
	records []store.CaptureRecord
}

func (f *fakeCaptureRepo) RecordCapture(_ context.Context, rec store.CaptureRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("db down")
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeCaptureRepo) ListCaptures(_ context.Context, domain string, _ int) ([]store.CaptureRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.CaptureRecord
	for _, rec := range f.records {
		if rec.Domain == domain {
			out = append(out, rec)
		}
	}
	return out, nil
}
