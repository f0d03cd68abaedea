package events

import "time"

// DomainEvent is implemented by every strongly typed event the domain emits.
type DomainEvent interface {
	EventType() EventType
	OccurredAt() time.Time
}

// EventMetadata carries transport specific details about where an event was
// read from. It is empty for events that have not passed through a broker.
type EventMetadata struct {
	Partition int32
	Offset    int64
}

// EventEnvelope encapsulates all event data flowing through the system, providing
// a standardized format for event processing and distribution.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically an entity identifier so
	// that events about the same deployment land on the same partition.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual domain event.
	Payload any

	Metadata EventMetadata
}

// NewEnvelope wraps a domain event in an envelope keyed by key.
func NewEnvelope(evt DomainEvent, key string) EventEnvelope {
	return EventEnvelope{
		Type:      evt.EventType(),
		Key:       key,
		Timestamp: evt.OccurredAt(),
		Payload:   evt,
	}
}
