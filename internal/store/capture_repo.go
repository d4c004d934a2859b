package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("capture record not found")

// CaptureOutcome mirrors the screenshot_captures.outcome column.
type CaptureOutcome string

// Persisted capture outcomes.
const (
	OutcomeSuccess  CaptureOutcome = "success"
	OutcomeFallback CaptureOutcome = "fallback"
)

// CaptureRecord is one completed Capture call.
type CaptureRecord struct {
	// ID groups the events of the capture (UUID form of the event capture id).
	ID uuid.UUID
	// Domain is the normalized host.
	Domain string
	// Outcome is success or fallback.
	Outcome CaptureOutcome
	// Provider is empty for fallbacks.
	Provider string
	// FromCache is true when no provider was contacted.
	FromCache bool
	// Attempts counts provider attempts made during the capture.
	Attempts int
	// Reason stores the failure reason for fallbacks.
	Reason *string
	// StartedAt and FinishedAt bound the capture.
	StartedAt  time.Time
	FinishedAt time.Time
	// Duration is the total capture latency.
	Duration time.Duration
}

// CaptureRepository persists and lists capture history.
type CaptureRepository interface {
	// RecordCapture inserts a completed capture; re-recording the same ID is a no-op.
	RecordCapture(ctx context.Context, rec CaptureRecord) error
	// ListCaptures returns the most recent captures of domain, newest first.
	ListCaptures(ctx context.Context, domain string, limit int) ([]CaptureRecord, error)
}
