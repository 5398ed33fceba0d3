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

	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies small batches are flushed on the interval.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   20 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWhenFull asserts Emit drops instead of blocking.
func TestHubEmitNonBlockingWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.Dropped())
}

// TestHubDiscardsInvalidEvents keeps malformed events away from sinks.
func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchWait: time.Minute}, sink)
	hub.Emit(Event{Stage: StageRunStart})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
	require.True(t, sink.Closed())
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

	hub.Emit(sampleEvent(StagePageSaved))
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)

	hub.Emit(sampleEvent(StagePageSaved))
	require.Len(t, sink.Batches(), 1)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	base := sampleEvent(StageFetchAttempt)
	cases := []struct {
		name    string
		mutate  func(e *Event)
		wantErr bool
	}{
		{name: "valid fetch", mutate: func(*Event) {}},
		{name: "missing run", mutate: func(e *Event) { e.RunID = [16]byte{} }, wantErr: true},
		{name: "missing ts", mutate: func(e *Event) { e.TS = time.Time{} }, wantErr: true},
		{name: "fetch without site", mutate: func(e *Event) { e.Site = "" }, wantErr: true},
		{name: "saved without path", mutate: func(e *Event) {
			e.Stage = StagePageSaved
			e.Path = ""
		}, wantErr: true},
		{name: "failed without kind", mutate: func(e *Event) { e.Stage = StagePageFailed }, wantErr: true},
		{name: "unknown stage", mutate: func(e *Event) { e.Stage = "NOPE" }, wantErr: true},
		{name: "negative duration", mutate: func(e *Event) { e.Dur = -time.Second }, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			evt := base
			tc.mutate(&evt)
			if tc.wantErr {
				require.Error(t, evt.Validate())
				return
			}
			require.NoError(t, evt.Validate())
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, Status2xx, ClassifyStatus(200))
	require.Equal(t, Status3xx, ClassifyStatus(301))
	require.Equal(t, Status4xx, ClassifyStatus(404))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(0))
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
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
	copy(out, s.batches)
	return out
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID: UUIDToBytes(uuid.New()),
		TS:    time.Now(),
		Stage: stage,
		Site:  "example.com",
		URL:   "https://example.com/docs",
		Path:  "out/example.com/Docs_20240101-000000.md",
	}
}
