// Package serializationerrors holds the errors returned while converting
// domain events to and from their wire format.
package serializationerrors

import "fmt"

// ErrNilEvent indicates that a nil event was provided for serialization/deserialization
type ErrNilEvent struct{ EventType string }

func (e ErrNilEvent) Error() string { return fmt.Sprintf("nil %s event", e.EventType) }

// ErrUnexpectedPayload indicates the payload type does not match the event type.
type ErrUnexpectedPayload struct {
	EventType string
	Payload   any
}

func (e ErrUnexpectedPayload) Error() string {
	return fmt.Sprintf("unexpected payload %T for event %s", e.Payload, e.EventType)
}

// ErrMissingField indicates a required field is absent from the wire message.
type ErrMissingField struct{ Field string }

func (e ErrMissingField) Error() string { return fmt.Sprintf("missing field %q", e.Field) }

// ErrInvalidField indicates a field is present but could not be decoded.
type ErrInvalidField struct {
	Field string
	Err   error
}

func (e ErrInvalidField) Error() string { return fmt.Sprintf("invalid %s: %v", e.Field, e.Err) }

func (e ErrInvalidField) Unwrap() error { return e.Err }
