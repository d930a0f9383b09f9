package foreman

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultBroadcastErrorDelay = 30 * time.Second
	defaultMaxBroadcastErrors  = 5
)

// Subscriber receives serialized events. A Send error removes the subscriber
// from the fan-out set; the WebSocket manager wraps each connection in one.
type Subscriber interface {
	Send(data []byte) error
}

// Broadcaster drains the event bus and fans each event out to every live
// subscriber. It owns the consumer loop: one goroutine calls Run for the
// lifetime of the engine.
type Broadcaster struct {
	bus    *EventBus
	logger *slog.Logger

	errorDelay time.Duration
	maxErrors  int

	mu   sync.Mutex
	subs map[Subscriber]struct{}
}

// BroadcastOption configures a Broadcaster.
type BroadcastOption func(*Broadcaster)

// BroadcastErrorDelay sets the sleep applied after too many consecutive
// delivery errors (default 30s).
func BroadcastErrorDelay(d time.Duration) BroadcastOption {
	return func(b *Broadcaster) { b.errorDelay = d }
}

// BroadcastMaxErrors sets the consecutive-error threshold (default 5).
func BroadcastMaxErrors(n int) BroadcastOption {
	return func(b *Broadcaster) { b.maxErrors = n }
}

// NewBroadcaster creates a broadcaster over bus.
func NewBroadcaster(bus *EventBus, logger *slog.Logger, opts ...BroadcastOption) *Broadcaster {
	if logger == nil {
		logger = nopLogger
	}
	b := &Broadcaster{
		bus:        bus,
		logger:     logger,
		errorDelay: defaultBroadcastErrorDelay,
		maxErrors:  defaultMaxBroadcastErrors,
		subs:       make(map[Subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a subscriber to the fan-out set.
func (b *Broadcaster) Register(s Subscriber) {
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
}

// Unregister removes a subscriber. Safe to call for already-removed subscribers.
func (b *Broadcaster) Unregister(s Subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// SubscriberCount reports the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Run consumes the bus until ctx is done. The loop never dies on delivery
// failures: after maxErrors consecutive failed cycles it sleeps errorDelay
// and resets the counter.
func (b *Broadcaster) Run(ctx context.Context) {
	errCount := 0
	for {
		ev, err := b.bus.Next(ctx)
		if err != nil {
			return
		}
		if err := b.deliver(ev); err != nil {
			errCount++
			b.logger.Error("broadcast delivery failed", "type", ev.Type, "consecutive_errors", errCount, "error", err)
			if errCount >= b.maxErrors {
				b.logger.Error("too many consecutive broadcast errors, backing off", "delay", b.errorDelay)
				timer := time.NewTimer(b.errorDelay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				errCount = 0
			}
			continue
		}
		errCount = 0
	}
}

// deliver serializes ev once and attempts delivery to every subscriber.
// Subscribers whose Send fails are removed and, when they implement
// io.Closer, closed so the underlying connection is released; their errors
// are not fatal to the cycle. Only serialization failures count as delivery
// errors.
func (b *Broadcaster) deliver(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	b.mu.Lock()
	targets := make([]Subscriber, 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		if err := s.Send(data); err != nil {
			b.logger.Warn("removing stale subscriber", "error", err)
			b.Unregister(s)
			if closer, ok := s.(io.Closer); ok {
				_ = closer.Close()
			}
		}
	}
	return nil
}
