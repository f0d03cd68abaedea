package eventdispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/deploy-armada/internal/domain/events"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

// mockEventHandler is a test implementation of the EventHandler interface
type mockEventHandler struct {
	mu              sync.Mutex
	supportedEvents []events.EventType
	handleFunc      func(ctx context.Context, evt events.EventEnvelope) error
	callCount       int
}

func (m *mockEventHandler) SupportedEvents() []events.EventType { return m.supportedEvents }

func (m *mockEventHandler) HandleEvent(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()

	err := m.handleFunc(ctx, evt)
	// Only acknowledge if no error.
	if err == nil {
		ack(nil)
	}
	return err
}

func (m *mockEventHandler) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func newTestEventHandler(eventTypes []events.EventType, handlerFn func(ctx context.Context, evt events.EventEnvelope) error) *mockEventHandler {
	return &mockEventHandler{supportedEvents: eventTypes, handleFunc: handlerFn}
}

func newTestDispatcher() *Dispatcher {
	return New("test-controller", noop.NewTracerProvider().Tracer(""), logger.Noop())
}

func noopAck(error) {}

func TestEventRouting(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher()

	eventType1 := events.EventType("test.event1")
	eventType2 := events.EventType("test.event2")
	ok := func(context.Context, events.EventEnvelope) error { return nil }

	handler1 := newTestEventHandler([]events.EventType{eventType1}, ok)
	handler2 := newTestEventHandler([]events.EventType{eventType2}, ok)

	require.NoError(t, d.RegisterHandler(ctx, handler1))
	require.NoError(t, d.RegisterHandler(ctx, handler2))

	require.NoError(t, d.Dispatch(ctx, events.EventEnvelope{Type: eventType1}, noopAck))
	require.NoError(t, d.Dispatch(ctx, events.EventEnvelope{Type: eventType2}, noopAck))
	require.NoError(t, d.Dispatch(ctx, events.EventEnvelope{Type: eventType2}, noopAck))

	assert.Equal(t, 1, handler1.calls())
	assert.Equal(t, 2, handler2.calls())
	assert.Equal(t, []events.EventType{eventType1, eventType2}, d.EventTypes())
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher()
	ok := func(context.Context, events.EventEnvelope) error { return nil }

	require.NoError(t, d.RegisterHandler(ctx, newTestEventHandler([]events.EventType{"a"}, ok)))

	err := d.RegisterHandler(ctx, newTestEventHandler([]events.EventType{"b", "a"}, ok))
	var dup *DuplicateHandlerError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, events.EventType("a"), dup.EventType)
	assert.Equal(t, []events.EventType{"a"}, d.EventTypes(), "partial registration must not happen")
}

func TestDispatchUnknownEventType(t *testing.T) {
	d := newTestDispatcher()

	var acked error
	err := d.Dispatch(context.Background(),
		events.EventEnvelope{Type: "missing", Metadata: events.EventMetadata{Partition: 2, Offset: 7}},
		func(err error) { acked = err })

	var notFound *HandlerNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int32(2), notFound.Partition)
	assert.Equal(t, int64(7), notFound.Offset)
	assert.ErrorAs(t, acked, &notFound)
}

func TestDispatchPropagatesHandlerError(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher()
	boom := errors.New("boom")

	require.NoError(t, d.RegisterHandler(ctx, newTestEventHandler(
		[]events.EventType{"a"},
		func(context.Context, events.EventEnvelope) error { return boom },
	)))

	acked := false
	err := d.Dispatch(ctx, events.EventEnvelope{Type: "a"}, func(error) { acked = true })
	assert.ErrorIs(t, err, boom)
	assert.False(t, acked)
}

func TestConcurrentDispatch(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher()
	h := newTestEventHandler([]events.EventType{"a"}, func(context.Context, events.EventEnvelope) error { return nil })
	require.NoError(t, d.RegisterHandler(ctx, h))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(ctx, events.EventEnvelope{Type: "a"}, noopAck)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, h.calls())
}
