// Package sinks implements concrete capture-event consumers: Prometheus
// metrics, repository-backed capture history and structured logging. Each
// sink satisfies progress.Sink.
package sinks
