// Package progress provides the event primitives, non-blocking hub, and emitter
// interface the screenshot pipeline uses to report capture activity. Events are
// batched on a background goroutine and fanned out to sinks such as Prometheus,
// Postgres, or Pub/Sub, so a slow sink never delays a preview.
package progress
