// Package serialization provides a registry-based system for serializing and deserializing
// domain events in the event bus infrastructure. It acts as a translation layer between
// domain objects and their protobuf wire format representations.
//
// Each event is carried as a google.protobuf.Struct. Timestamps are written in the
// canonical JSON form of google.protobuf.Timestamp so any consumer with the well-known
// types can read them.
package serialization

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/ahrav/deploy-armada/internal/domain/events"
	serializationerrors "github.com/ahrav/deploy-armada/internal/infra/eventbus/serialization/errors"
)

// SerializeFunc converts a domain object into a serialized byte slice.
type SerializeFunc func(payload any) ([]byte, error)

// DeserializeFunc converts a serialized byte slice back into a domain object.
type DeserializeFunc func(data []byte) (any, error)

// Global registries map event types to their serialization functions.
var (
	serializerRegistry   = map[events.EventType]SerializeFunc{}
	deserializerRegistry = map[events.EventType]DeserializeFunc{}
)

// RegisterSerializeFunc registers a serialization function for a given event type.
func RegisterSerializeFunc(eventType events.EventType, fn SerializeFunc) {
	serializerRegistry[eventType] = fn
}

// RegisterDeserializeFunc registers a deserialization function for a given event type.
func RegisterDeserializeFunc(eventType events.EventType, fn DeserializeFunc) {
	deserializerRegistry[eventType] = fn
}

// SerializePayload converts a domain object into bytes using the registered serializer for its event type.
// Returns an error if no serializer is registered for the given event type.
func SerializePayload(eventType events.EventType, payload any) ([]byte, error) {
	fn, ok := serializerRegistry[eventType]
	if !ok {
		return nil, fmt.Errorf("no serializer registered for eventType=%s", eventType)
	}
	return fn(payload)
}

// DeserializePayload converts bytes back into a domain object using the registered deserializer for its event type.
// Returns an error if no deserializer is registered for the given event type.
func DeserializePayload(eventType events.EventType, data []byte) (any, error) {
	fn, ok := deserializerRegistry[eventType]
	if !ok {
		return nil, fmt.Errorf("no deserializer registered for eventType=%s", eventType)
	}
	return fn(data)
}

// IsRegistered reports whether eventType has both a serializer and a deserializer.
func IsRegistered(eventType events.EventType) bool {
	_, s := serializerRegistry[eventType]
	_, d := deserializerRegistry[eventType]
	return s && d
}

func init() {
	registerRemoteTaskSerializers()
}

// structCodec builds the serializer pair for an event carried as a Struct.
func structCodec[T any](
	eventType events.EventType,
	toFields func(T) map[string]any,
	fromFields func(fields) (T, error),
) {
	RegisterSerializeFunc(eventType, func(payload any) ([]byte, error) {
		evt, ok := payload.(T)
		if !ok {
			if p, isPtr := payload.(*T); isPtr && p != nil {
				evt = *p
			} else {
				return nil, serializationerrors.ErrUnexpectedPayload{EventType: string(eventType), Payload: payload}
			}
		}
		s, err := structpb.NewStruct(toFields(evt))
		if err != nil {
			return nil, fmt.Errorf("building %s struct: %w", eventType, err)
		}
		return proto.Marshal(s)
	})

	RegisterDeserializeFunc(eventType, func(data []byte) (any, error) {
		var s structpb.Struct
		if err := proto.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", eventType, err)
		}
		evt, err := fromFields(fields(s.GetFields()))
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", eventType, err)
		}
		return evt, nil
	})
}

// fields is a read view over a Struct's fields.
type fields map[string]*structpb.Value

func (f fields) str(name string) string { return f[name].GetStringValue() }

func (f fields) requiredStr(name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", serializationerrors.ErrMissingField{Field: name}
	}
	return v.GetStringValue(), nil
}

func (f fields) integer(name string) int { return int(f[name].GetNumberValue()) }

func (f fields) boolean(name string) bool { return f[name].GetBoolValue() }

func (f fields) timestamp(name string) (time.Time, error) {
	raw, ok := f[name]
	if !ok {
		return time.Time{}, serializationerrors.ErrMissingField{Field: name}
	}
	var ts timestamppb.Timestamp
	if err := protojson.Unmarshal([]byte(`"`+raw.GetStringValue()+`"`), &ts); err != nil {
		return time.Time{}, serializationerrors.ErrInvalidField{Field: name, Err: err}
	}
	if err := ts.CheckValid(); err != nil {
		return time.Time{}, serializationerrors.ErrInvalidField{Field: name, Err: err}
	}
	return ts.AsTime(), nil
}

// formatTimestamp renders t in the canonical Timestamp JSON form.
func formatTimestamp(t time.Time) string {
	b, err := protojson.Marshal(timestamppb.New(t))
	if err != nil || len(b) < 2 {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return string(b[1 : len(b)-1])
}
