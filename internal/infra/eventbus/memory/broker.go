// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent broker suitable for testing
// and single-process deployments where durability is not required.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/ahrav/deploy-armada/internal/domain/events"
)

// ErrBusClosed is returned by operations on a closed Broker.
var ErrBusClosed = errors.New("event bus closed")

type subscription struct {
	types   []events.EventType
	handler events.HandlerFunc
}

// Broker is an in-memory events.EventBus. Events are delivered synchronously
// to every subscriber registered for their type, in subscription order.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64
	closed bool
}

var (
	_ events.EventBus             = (*Broker)(nil)
	_ events.DomainEventPublisher = (*Broker)(nil)
)

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]subscription)}
}

// Subscribe registers handler for eventTypes until ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{types: slices.Clone(eventTypes), handler: handler}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	return nil
}

// Publish delivers evt to matching subscribers, stopping at the first handler
// error. Options override the envelope key and headers when set.
func (b *Broker) Publish(ctx context.Context, evt events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := events.ApplyOptions(opts...)
	if params.Key != "" {
		evt.Key = params.Key
	}
	if params.Headers != nil {
		evt.Headers = params.Headers
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	ids := make([]uint64, 0, len(b.subs))
	for id, s := range b.subs {
		if slices.Contains(s.types, evt.Type) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	handlers := make([]events.HandlerFunc, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[id].handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ackErr error
		if err := handler(ctx, evt, func(err error) { ackErr = err }); err != nil {
			return err
		}
		if ackErr != nil {
			return ackErr
		}
	}
	return nil
}

// PublishDomainEvent wraps event in an envelope and publishes it.
func (b *Broker) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	return b.Publish(ctx, events.NewEnvelope(event, ""), opts...)
}

// Close drops every subscription. Later calls to Publish or Subscribe fail
// with ErrBusClosed.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.subs)
	return nil
}
