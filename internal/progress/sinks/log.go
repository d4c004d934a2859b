package sinks

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eligetuhosting/previewd/internal/progress"
)

// LogSink writes each capture event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Fallbacks are logged at info, the
// rest at debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("capture_id", uuid.UUID(evt.CaptureID).String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("domain", evt.Domain),
			zap.String("provider", evt.Provider),
			zap.String("outcome", string(evt.Outcome)),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageCaptureDone && evt.Outcome == progress.OutcomeFallback {
			s.logger.Info("capture degraded to fallback", fields...)
			continue
		}
		s.logger.Debug("capture event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
