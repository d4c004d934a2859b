// Package pubsub publishes completed captures to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/eligetuhosting/previewd/internal/progress"
)

// CaptureMessage is the JSON payload of each published message.
type CaptureMessage struct {
	CaptureID  string    `json:"capture_id"`
	Domain     string    `json:"domain"`
	Outcome    string    `json:"outcome"`
	Provider   string    `json:"provider,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher wraps a Pub/Sub topic. It also acts as a progress.Sink that
// publishes one message per CAPTURE_DONE event.
type Publisher struct {
	topic  *pubsub.Topic
	logger *zap.Logger
}

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic, logger *zap.Logger) (*Publisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{topic: topic, logger: logger}, nil
}

// Publish sends msg and waits for the server-assigned message id. Trace
// context from ctx is carried in the message attributes.
func (p *Publisher) Publish(ctx context.Context, msg CaptureMessage) (string, error) {
	id, err := p.publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) publish(ctx context.Context, msg CaptureMessage) *pubsub.PublishResult {
	data, err := json.Marshal(msg)
	if err != nil {
		// CaptureMessage only holds strings, ints and a time; this cannot fail.
		p.logger.Error("marshal capture message", zap.Error(err))
	}
	out := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"domain":  msg.Domain,
			"outcome": msg.Outcome,
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: out.Attributes})
	return p.topic.Publish(ctx, out)
}

// Consume publishes every CAPTURE_DONE event of the batch and waits for all
// of them, returning the first failure.
func (p *Publisher) Consume(ctx context.Context, batch []progress.Event) error {
	var results []*pubsub.PublishResult
	for _, evt := range batch {
		if evt.Stage != progress.StageCaptureDone {
			continue
		}
		msgCtx := ctx
		if evt.SpanContext.IsValid() {
			msgCtx = trace.ContextWithRemoteSpanContext(ctx, evt.SpanContext)
		}
		results = append(results, p.publish(msgCtx, messageFromEvent(evt)))
	}
	var firstErr error
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish capture: %w", err)
		}
	}
	return firstErr
}

// Close flushes pending publishes.
func (p *Publisher) Close(context.Context) error {
	p.topic.Stop()
	return nil
}

func messageFromEvent(evt progress.Event) CaptureMessage {
	msg := CaptureMessage{
		CaptureID:  uuid.UUID(evt.CaptureID).String(),
		Domain:     evt.Domain,
		Outcome:    string(evt.Outcome),
		Provider:   evt.Provider,
		DurationMs: evt.Dur.Milliseconds(),
		FinishedAt: evt.TS,
	}
	if evt.Outcome != progress.OutcomeOK {
		msg.Reason = evt.Note
	}
	return msg
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
