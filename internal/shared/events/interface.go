package events

import (
	"context"
)

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

// NopBus is an EventBus that drops everything. Used when the event
// store is disabled and in tests.
type NopBus struct{}

func (NopBus) Publish(ctx context.Context, event Event) error { return nil }
func (NopBus) Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error {
	return nil
}
func (NopBus) Close()        {}
func (NopBus) Health() error { return nil }

// Ensure Bus implements EventBus
var _ EventBus = (*Bus)(nil)

var _ EventBus = NopBus{}
