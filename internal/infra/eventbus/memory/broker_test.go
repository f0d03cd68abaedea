package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/deploy-armada/internal/domain/events"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
)

func TestPublishAndSubscribe(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()

	var got []events.EventEnvelope
	err := broker.Subscribe(ctx,
		[]events.EventType{remotetask.EventTypeRemoteTaskMonitorRequested},
		func(_ context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
			got = append(got, evt)
			ack(nil)
			return nil
		})
	require.NoError(t, err)

	evt := remotetask.NewRemoteTaskMonitorRequestedEvent("task", "step", "dep-1")
	require.NoError(t, broker.PublishDomainEvent(ctx, evt, events.WithKey("dep-1")))

	require.Len(t, got, 1)
	assert.Equal(t, remotetask.EventTypeRemoteTaskMonitorRequested, got[0].Type)
	assert.Equal(t, "dep-1", got[0].Key)
	assert.Equal(t, evt, got[0].Payload)
}

func TestPublishFiltersByType(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()

	calls := 0
	require.NoError(t, broker.Subscribe(ctx,
		[]events.EventType{remotetask.EventTypeRemoteTaskMonitorCancelled},
		func(context.Context, events.EventEnvelope, events.AckFunc) error {
			calls++
			return nil
		}))

	require.NoError(t, broker.PublishDomainEvent(ctx,
		remotetask.NewRemoteTaskMonitorRequestedEvent("task", "step", "dep-1")))
	assert.Zero(t, calls)
}

func TestMultipleSubscribers(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()

	var order []int
	for i := range 3 {
		require.NoError(t, broker.Subscribe(ctx,
			[]events.EventType{remotetask.EventTypeRemoteTaskMonitorCancelled},
			func(context.Context, events.EventEnvelope, events.AckFunc) error {
				order = append(order, i)
				return nil
			}))
	}

	require.NoError(t, broker.PublishDomainEvent(ctx, remotetask.NewRemoteTaskMonitorCancelledEvent("dep-1", "user")))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestPublishReturnsHandlerAndAckErrors(t *testing.T) {
	t.Parallel()

	handlerErr := errors.New("handler failed")
	ackErr := errors.New("nacked")

	tests := []struct {
		name    string
		handler events.HandlerFunc
		wantErr error
	}{
		{
			name: "handler error",
			handler: func(context.Context, events.EventEnvelope, events.AckFunc) error {
				return handlerErr
			},
			wantErr: handlerErr,
		},
		{
			name: "negative ack",
			handler: func(_ context.Context, _ events.EventEnvelope, ack events.AckFunc) error {
				ack(ackErr)
				return nil
			},
			wantErr: ackErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			broker := NewBroker()
			ctx := context.Background()
			require.NoError(t, broker.Subscribe(ctx,
				[]events.EventType{remotetask.EventTypeRemoteTaskMonitorCancelled}, tt.handler))

			err := broker.PublishDomainEvent(ctx, remotetask.NewRemoteTaskMonitorCancelledEvent("dep-1", ""))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUnsubscribeOnContextCancel(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	subCtx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	calls := 0
	require.NoError(t, broker.Subscribe(subCtx,
		[]events.EventType{remotetask.EventTypeRemoteTaskMonitorCancelled},
		func(context.Context, events.EventEnvelope, events.AckFunc) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		}))
	cancel()

	assert.Eventually(t, func() bool {
		broker.mu.RLock()
		defer broker.mu.RUnlock()
		return len(broker.subs) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, broker.PublishDomainEvent(context.Background(),
		remotetask.NewRemoteTaskMonitorCancelledEvent("dep-1", "")))
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := broker.Subscribe(ctx, nil, func(context.Context, events.EventEnvelope, events.AckFunc) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	err = broker.PublishDomainEvent(ctx, remotetask.NewRemoteTaskMonitorCancelledEvent("dep-1", ""))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	require.NoError(t, broker.Close())

	ctx := context.Background()
	err := broker.Subscribe(ctx, nil, func(context.Context, events.EventEnvelope, events.AckFunc) error { return nil })
	assert.ErrorIs(t, err, ErrBusClosed)
	err = broker.PublishDomainEvent(ctx, remotetask.NewRemoteTaskMonitorCancelledEvent("dep-1", ""))
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestNilHandler(t *testing.T) {
	t.Parallel()

	err := NewBroker().Subscribe(context.Background(), nil, nil)
	assert.Error(t, err)
}
