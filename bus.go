package foreman

import (
	"context"
	"log/slog"
)

// defaultBusCapacity bounds the event queue. Overflow drops the oldest event
// so subscribers see newer state at the cost of older intermediate frames.
const defaultBusCapacity = 1000

// EventBus is a bounded FIFO of engine events. Publish never blocks; Next is
// the single-consumer dequeue used by the Broadcaster.
type EventBus struct {
	ch     chan Event
	logger *slog.Logger
}

// NewEventBus creates a bus with the given capacity (<= 0 uses the default).
func NewEventBus(capacity int, logger *slog.Logger) *EventBus {
	if capacity <= 0 {
		capacity = defaultBusCapacity
	}
	if logger == nil {
		logger = nopLogger
	}
	return &EventBus{ch: make(chan Event, capacity), logger: logger}
}

// Publish enqueues ev without blocking. When the queue is full the oldest
// event is dropped (with a warning) to make room.
func (b *EventBus) Publish(ev Event) {
	select {
	case b.ch <- ev:
		return
	default:
	}
	select {
	case old := <-b.ch:
		b.logger.Warn("event bus full, dropping oldest event", "dropped_type", old.Type, "new_type", ev.Type)
	default:
	}
	select {
	case b.ch <- ev:
	default:
		// Lost the race against another publisher; drop the new event instead.
		b.logger.Warn("event bus full, dropping event", "type", ev.Type)
	}
}

// Next blocks until an event is available or ctx is done.
func (b *EventBus) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case ev := <-b.ch:
		return ev, nil
	}
}

// Len reports the number of queued events.
func (b *EventBus) Len() int { return len(b.ch) }

// Capacity reports the bound of the queue.
func (b *EventBus) Capacity() int { return cap(b.ch) }
