package events

import "context"

// AckFunc acknowledges processing of an event. A non-nil error reports that
// processing failed; the transport decides whether the event is redelivered.
type AckFunc func(error)

// HandlerFunc processes a single event envelope.
type HandlerFunc func(ctx context.Context, evt EventEnvelope, ack AckFunc) error

// EventHandler defines the contract for components that process domain events.
type EventHandler interface {
	// HandleEvent processes a domain event and returns an error if processing fails.
	HandleEvent(ctx context.Context, evt EventEnvelope, ack AckFunc) error

	// SupportedEvents returns the event types this handler can process.
	SupportedEvents() []EventType
}
