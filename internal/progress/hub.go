package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub. Zero values fall back
// to a 1024-event buffer, 256-event batches, a 250ms flush interval and a 5s
// per-sink timeout.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropWarnInterval      = 5 * time.Second
)

// Hub fans events out to sinks in batches. Emit never blocks: when the buffer
// is full the event is dropped and counted.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	closing   atomic.Bool
	dropped   atomic.Int64
	lastWarn  atomic.Int64
	closeOnce sync.Once
}

// NewHub starts the batching goroutine and returns a ready Hub.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go h.loop()
	return h
}

// Emit enqueues evt for the next batch.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		h.warnDropped()
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close flushes buffered events, closes the sinks and waits for the batching
// goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		h.closing.Store(true)
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.flush(batch)
			}
		case <-ticker.C:
			batch = h.flush(batch)
		case <-h.stop:
			h.drain(batch)
			return
		}
	}
}

func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.flush(batch)
			}
		default:
			h.flush(batch)
			for _, sink := range h.sinks {
				ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
				if err := sink.Close(ctx); err != nil {
					h.logger.Warn("progress sink close failed", zap.Error(err))
				}
				cancel()
			}
			return
		}
	}
}

// flush hands a copy of batch to every sink and returns batch emptied.
func (h *Hub) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
	return batch[:0]
}

func (h *Hub) warnDropped() {
	now := time.Now().UnixNano()
	last := h.lastWarn.Load()
	if now-last < dropWarnInterval.Nanoseconds() || !h.lastWarn.CompareAndSwap(last, now) {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped_total", h.dropped.Load()))
}
