// Package eventbus delivers workflow notifications and worker commands over a message broker.
package eventbus

import (
	"context"

	"github.com/dukex/taskflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// EventPublisher sends events. key is the partition key: events sharing a key
// (a workflow id, a template id) are delivered in publish order.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber routes consumed events to one handler per event type. Handlers must be
// registered before Subscribe; a second Handle for the same type replaces the first.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event. Returning an error nacks the
// message so the broker redelivers it.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

var _ EventBus = (*WatermillEventBus)(nil)
