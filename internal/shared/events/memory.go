package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// MemoryBus is an in-process event bus used in local development and tests.
// Delivery is synchronous and best-effort; handler errors are logged, not
// retried.
type MemoryBus struct {
	mu       sync.RWMutex
	subs     []memorySub
	history  []Event
	log      zerolog.Logger
	maxItems int
}

type memorySub struct {
	pattern string
	handler Handler
}

// NewMemoryBus creates a new in-process bus
func NewMemoryBus(log zerolog.Logger) *MemoryBus {
	return &MemoryBus{
		log:      log.With().Str("component", "eventbus").Logger(),
		maxItems: 10000,
	}
}

// Publish delivers the event to all matching subscribers
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > b.maxItems {
		b.history = b.history[len(b.history)-b.maxItems:]
	}
	subs := make([]memorySub, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		if !matchesPattern(event.Type, sub.pattern) {
			continue
		}
		if err := sub.handler(ctx, event); err != nil {
			b.log.Error().Err(err).Str("event_id", event.ID).Msg("event handler failed")
		}
	}

	return nil
}

// Subscribe registers a handler for events matching the pattern
func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, memorySub{pattern: pattern, handler: handler})
	return nil
}

// Published returns a copy of all published events, for tests
func (b *MemoryBus) Published() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// Close is a no-op for the in-process bus
func (b *MemoryBus) Close() {}

// Health always succeeds for the in-process bus
func (b *MemoryBus) Health() error { return nil }
