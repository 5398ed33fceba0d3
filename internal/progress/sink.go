package progress

import "context"

// Sink consumes batches of progress events. Implementations must honor ctx
// deadlines; the Hub calls them from a single goroutine.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events without blocking the caller.
type Emitter interface {
	Emit(evt Event)
}

// NopEmitter discards every event.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Event) {}
