package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHubBatchBySize verifies the hub flushes once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageCaptureStart))
	hub.Emit(sampleEvent(StageCaptureStart))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies a partial batch is flushed after MaxBatchWait.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageCaptureStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlocking asserts Emit returns immediately when nobody drains the buffer.
func TestHubEmitNonBlocking(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageCaptureStart))
	hub.Emit(sampleEvent(StageCaptureStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 1, hub.dropped.Load())
}

// TestHubDropsInvalidEvents ensures malformed events never reach sinks.
func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchWait: time.Minute}, sink)

	hub.Emit(Event{Stage: StageCaptureStart})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
	require.True(t, sink.closed)
}

// TestHubFlushOnClose ensures Close drains buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StageCaptureStart))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)

	// Emits after close are ignored.
	hub.Emit(sampleEvent(StageCaptureStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := sampleEvent(StageProvider)
	require.NoError(t, valid.Validate())

	cases := map[string]func(e *Event){
		"missing id":       func(e *Event) { e.CaptureID = [16]byte{} },
		"missing ts":       func(e *Event) { e.TS = time.Time{} },
		"missing domain":   func(e *Event) { e.Domain = "" },
		"missing provider": func(e *Event) { e.Provider = "" },
		"missing outcome":  func(e *Event) { e.Outcome = "" },
		"unknown stage":    func(e *Event) { e.Stage = "NOPE" },
		"negative dur":     func(e *Event) { e.Dur = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			evt := sampleEvent(StageProvider)
			mutate(&evt)
			require.Error(t, evt.Validate())
		})
	}
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	evt := Event{
		CaptureID: UUIDToBytes(uuid.New()),
		TS:        time.Now(),
		Stage:     stage,
		Domain:    "example.cl",
	}
	if stage != StageCaptureStart {
		evt.Outcome = OutcomeOK
	}
	if stage == StageProvider {
		evt.Provider = "thumio"
	}
	return evt
}
