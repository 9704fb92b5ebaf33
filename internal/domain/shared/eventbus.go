package shared

import "context"

// EventHandler reacts to events raised by aggregates, e.g. the sync audit trail.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	// EventTypes lists the types the handler wants; nil means every event.
	EventTypes() []string
}

// EventPublisher is what the application services depend on.
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventSubscriber attaches handlers. Subscribing without event types
// falls back to the handler's own EventTypes.
type EventSubscriber interface {
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
}

// EventBus is the in-process transport between the sync engine and its
// observers. Start and Stop bracket asynchronous delivery.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
