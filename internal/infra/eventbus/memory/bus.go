// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent bus suitable for testing and
// development environments where durability is not required.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/campusops/batchline/internal/domain/events"
)

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements events.EventBus with in-process handler fan-out.
// Publish delivers synchronously to every subscribed handler, stopping at the
// first error, which keeps test assertions deterministic.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[events.EventType][]events.HandlerFunc
	closed   bool
}

// NewEventBus creates an empty in-memory event bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[events.EventType][]events.HandlerFunc)}
}

// Publish delivers the envelope to all handlers subscribed to its type.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := events.PublishParams{}
	for _, opt := range opts {
		opt(&params)
	}
	if params.Key != "" {
		event.Key = params.Key
	}
	if len(params.Headers) > 0 {
		event.Headers = params.Headers
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("event bus is closed")
	}
	handlers := make([]events.HandlerFunc, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for the given event types.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range eventTypes {
		b.handlers[t] = append(b.handlers[t], handler)
	}
	return nil
}

// Close marks the bus closed; further publishes fail.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[events.EventType][]events.HandlerFunc)
	return nil
}

var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// DomainEventPublisher adapts the in-memory bus to the domain publisher port.
type DomainEventPublisher struct {
	bus *EventBus

	mu        sync.Mutex
	published []events.DomainEvent
}

// NewDomainEventPublisher creates a publisher backed by the in-memory bus.
func NewDomainEventPublisher(bus *EventBus) *DomainEventPublisher {
	return &DomainEventPublisher{bus: bus}
}

// PublishDomainEvent wraps the domain event in an envelope and records it for
// test inspection.
func (p *DomainEventPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	evt := events.EventEnvelope{
		Type:      event.EventType(),
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}
	if err := p.bus.Publish(ctx, evt, opts...); err != nil {
		return err
	}

	p.mu.Lock()
	p.published = append(p.published, event)
	p.mu.Unlock()
	return nil
}

// Published returns a snapshot of every event published so far.
func (p *DomainEventPublisher) Published() []events.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.DomainEvent, len(p.published))
	copy(out, p.published)
	return out
}
