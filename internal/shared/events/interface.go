package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/clinsight/platform/internal/shared/config"
)

// Handler is a function that handles an event
type Handler func(ctx context.Context, event Event) error

// EventBus defines the interface for event publishing and subscription
type EventBus interface {
	// Publish publishes an event to the bus
	Publish(ctx context.Context, event Event) error

	// Subscribe creates a subscription to events matching a pattern
	Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error

	// Close closes the event bus connection
	Close()

	// Health checks the event bus connection
	Health() error
}

// NewEventBus creates an event bus. When EventStoreDB is disabled (local
// development, tests) an in-process bus is used instead.
func NewEventBus(ctx context.Context, cfg config.EventStoreConfig, log zerolog.Logger) (EventBus, error) {
	if !cfg.Enabled {
		return NewMemoryBus(log), nil
	}

	bus, err := NewBus(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if err := bus.Health(); err != nil {
		bus.Close()
		return nil, err
	}

	return bus, nil
}

// Ensure implementations satisfy EventBus
var (
	_ EventBus = (*Bus)(nil)
	_ EventBus = (*MemoryBus)(nil)
)
