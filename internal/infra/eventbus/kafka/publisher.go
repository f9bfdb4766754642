package kafka

import (
	"context"

	"github.com/campusops/batchline/internal/domain/events"
)

// Verify DomainEventPublisher implements the domain publisher port.
var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// DomainEventPublisher implements the events.DomainEventPublisher interface
// using Kafka as the underlying message transport. It adapts domain-level
// events to the event bus abstraction for reliable, asynchronous event
// distribution.
type DomainEventPublisher struct {
	eventBus events.EventBus
}

// NewDomainEventPublisher creates a publisher that distributes domain events
// through the provided event bus.
func NewDomainEventPublisher(eventBus events.EventBus) *DomainEventPublisher {
	return &DomainEventPublisher{eventBus: eventBus}
}

// PublishDomainEvent sends a domain event through the Kafka event bus,
// carrying forward the event's timestamp and any routing options.
func (pub *DomainEventPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	evt := events.EventEnvelope{
		Type:      event.EventType(),
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}
	return pub.eventBus.Publish(ctx, evt, opts...)
}
