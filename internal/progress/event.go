// Package progress defines the events emitted while a preview is captured.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Stage denotes which step of a capture an Event describes.
type Stage string

// Supported capture stages.
const (
	StageCaptureStart Stage = "CAPTURE_START"
	StageCacheHit     Stage = "CACHE_HIT"
	StageReachability Stage = "REACHABILITY"
	StageProvider     Stage = "PROVIDER_ATTEMPT"
	StageRender       Stage = "RENDER"
	StageFavicon      Stage = "FAVICON"
	StageCaptureDone  Stage = "CAPTURE_DONE"
)

// Outcome is the coarse result of a stage.
type Outcome string

// Stage outcomes.
const (
	OutcomeOK          Outcome = "ok"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeError       Outcome = "error"
	OutcomeThrottled   Outcome = "throttled"
	OutcomeUnreachable Outcome = "unreachable"
	OutcomeFallback    Outcome = "fallback"
)

// Event captures a single step of a capture run.
type Event struct {
	// CaptureID groups every event of one Capture call (16-byte UUID form).
	CaptureID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which pipeline step occurred.
	Stage Stage
	// Domain is the normalized host being previewed.
	Domain string
	// Provider names the screenshot provider for provider and done events.
	Provider string
	// Outcome is required on every stage except CAPTURE_START.
	Outcome Outcome
	// Dur captures the stage latency, or the whole capture on CAPTURE_DONE.
	Dur time.Duration
	// Note carries low-volume context such as the failure reason.
	Note string
	// SpanContext links CAPTURE_DONE to the capture's trace so asynchronous
	// sinks can propagate it.
	SpanContext trace.SpanContext
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CaptureID == [16]byte{} {
		return errors.New("capture id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Domain == "" {
		return errors.New("domain is required")
	}
	switch e.Stage {
	case StageCaptureStart:
	case StageProvider:
		if e.Provider == "" {
			return errors.New("provider attempt requires provider")
		}
		if e.Outcome == "" {
			return errors.New("provider attempt requires outcome")
		}
	case StageCacheHit, StageReachability, StageRender, StageFavicon, StageCaptureDone:
		if e.Outcome == "" {
			return fmt.Errorf("%s requires outcome", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// CaptureUUID converts the binary capture ID to uuid.UUID for repositories.
func (e Event) CaptureUUID() uuid.UUID {
	return uuid.UUID(e.CaptureID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
