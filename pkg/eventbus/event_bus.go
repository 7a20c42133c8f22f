// Package eventbus provides event-driven communication between the engine's
// services.
package eventbus

import (
	"context"

	"github.com/vessoa/paperwork/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	// Publish emits the event keyed by run id, which keeps one run's
	// events ordered on partitioned transports.
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
