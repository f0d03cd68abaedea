// Package eventdispatcher routes event envelopes to the single handler
// registered for their type.
package eventdispatcher

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/deploy-armada/internal/domain/events"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

// Dispatcher manages event handlers and dispatches events to their registered handler.
// Each event type has exactly one handler responsible for processing events of that type.
//
// Typical usage:
//
//	d := eventdispatcher.New("controller", tracer, logger)
//	if err := d.RegisterHandler(ctx, runner); err != nil { ... }
//	bus.Subscribe(ctx, d.EventTypes(), d.Dispatch)
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[events.EventType]events.EventHandler

	tracer trace.Tracer
	logger *logger.Logger
}

// New constructs a Dispatcher with an empty registry.
func New(ownerID string, tracer trace.Tracer, logger *logger.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[events.EventType]events.EventHandler),
		tracer:   tracer,
		logger:   logger.With("component", "event_dispatcher", "owner_id", ownerID),
	}
}

// DuplicateHandlerError is returned when an event type already has a handler.
type DuplicateHandlerError struct{ EventType events.EventType }

func (e *DuplicateHandlerError) Error() string {
	return fmt.Sprintf("handler already registered for event type: %s", e.EventType)
}

// RegisterHandler registers h for every event type it supports. Registration
// is all or nothing: if any type is already taken nothing is registered.
func (d *Dispatcher) RegisterHandler(ctx context.Context, h events.EventHandler) error {
	types := h.SupportedEvents()
	_, span := d.tracer.Start(ctx, "event_dispatcher.register_handler",
		trace.WithAttributes(attribute.String("handler_type", fmt.Sprintf("%T", h))))
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, et := range types {
		if _, exists := d.handlers[et]; exists {
			err := &DuplicateHandlerError{EventType: et}
			span.RecordError(err)
			span.SetStatus(codes.Error, "duplicate handler")
			return err
		}
	}
	for _, et := range types {
		d.handlers[et] = h
	}

	d.logger.Debug(ctx, "handler registered", "handler_type", fmt.Sprintf("%T", h), "event_types", types)
	span.SetStatus(codes.Ok, "handler registered")
	return nil
}

// EventTypes returns every event type with a registered handler, sorted.
func (d *Dispatcher) EventTypes() []events.EventType {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]events.EventType, 0, len(d.handlers))
	for et := range d.handlers {
		out = append(out, et)
	}
	slices.Sort(out)
	return out
}

// HandlerNotFoundError is an error type that indicates a handler was not found for an event type.
type HandlerNotFoundError struct {
	EventType events.EventType
	Partition int32
	Offset    int64
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for event type: %s (partition: %d, offset: %d)",
		e.EventType, e.Partition, e.Offset)
}

// Dispatch hands evt to its registered handler. Events without a handler are
// negatively acknowledged and reported as HandlerNotFoundError.
func (d *Dispatcher) Dispatch(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	log := logger.NewLoggerContext(d.logger.With("operation", "dispatch",
		"event_type", evt.Type,
		"partition", evt.Metadata.Partition,
		"offset", evt.Metadata.Offset,
	))
	ctx, span := d.tracer.Start(ctx, "event_dispatcher.handle_event",
		trace.WithAttributes(
			attribute.String("event_type", string(evt.Type)),
			attribute.Int("partition", int(evt.Metadata.Partition)),
			attribute.Int64("offset", evt.Metadata.Offset),
		))
	defer span.End()

	d.mu.RLock()
	handler, exists := d.handlers[evt.Type]
	d.mu.RUnlock()
	if !exists {
		err := &HandlerNotFoundError{
			EventType: evt.Type,
			Partition: evt.Metadata.Partition,
			Offset:    evt.Metadata.Offset,
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ack(err)
		return err
	}
	log.Add("handler_type", fmt.Sprintf("%T", handler))

	if err := handler.HandleEvent(ctx, evt, ack); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn(ctx, "event handler failed", "error", err)
		return fmt.Errorf("failed to dispatch event for handler %T with event type %s: %w", handler, evt.Type, err)
	}

	span.SetStatus(codes.Ok, "event dispatched successfully")
	log.Debug(ctx, "event dispatched successfully")
	return nil
}
