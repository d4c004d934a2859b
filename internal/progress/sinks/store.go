package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eligetuhosting/previewd/internal/progress"
	"github.com/eligetuhosting/previewd/internal/store"
)

// maxPending bounds captures whose CAPTURE_DONE has not arrived yet.
const maxPending = 4096

// StoreSink folds the events of each capture into one store.CaptureRecord and
// persists it when CAPTURE_DONE arrives. Events of one capture may span
// several batches.
type StoreSink struct {
	repo   store.CaptureRepository
	logger *zap.Logger

	mu      sync.Mutex
	pending map[[16]byte]*captureState
}

type captureState struct {
	started  time.Time
	attempts int
	fromHit  bool
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.CaptureRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger, pending: make(map[[16]byte]*captureState)}
}

// Consume records completed captures. It returns the first repository error;
// the remaining completed captures of the batch are still attempted.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var firstErr error
	for _, evt := range batch {
		rec, done := s.fold(evt)
		if !done {
			continue
		}
		if err := s.repo.RecordCapture(ctx, rec); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("record capture: %w", err)
		}
	}
	return firstErr
}

func (s *StoreSink) fold(evt progress.Event) (store.CaptureRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.pending[evt.CaptureID]
	if state == nil {
		if len(s.pending) >= maxPending {
			s.logger.Warn("capture history backlog full, resetting")
			s.pending = make(map[[16]byte]*captureState)
		}
		state = &captureState{started: evt.TS}
		s.pending[evt.CaptureID] = state
	}
	switch evt.Stage {
	case progress.StageCaptureStart:
		state.started = evt.TS
	case progress.StageCacheHit:
		state.fromHit = true
	case progress.StageProvider:
		state.attempts++
	case progress.StageCaptureDone:
		delete(s.pending, evt.CaptureID)
		rec := store.CaptureRecord{
			ID:         evt.CaptureUUID(),
			Domain:     evt.Domain,
			Outcome:    store.OutcomeSuccess,
			Provider:   evt.Provider,
			FromCache:  state.fromHit,
			Attempts:   state.attempts,
			StartedAt:  state.started,
			FinishedAt: evt.TS,
			Duration:   evt.Dur,
		}
		if evt.Outcome != progress.OutcomeOK {
			rec.Outcome = store.OutcomeFallback
			if evt.Note != "" {
				note := evt.Note
				rec.Reason = &note
			}
		}
		return rec, true
	}
	return store.CaptureRecord{}, false
}

// Close drops partially observed captures.
func (s *StoreSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.pending); n > 0 {
		s.logger.Debug("discarding incomplete captures", zap.Int("count", n))
	}
	s.pending = make(map[[16]byte]*captureState)
	return nil
}
