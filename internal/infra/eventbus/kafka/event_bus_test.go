package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/deploy-armada/internal/domain/events"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	"github.com/ahrav/deploy-armada/internal/infra/eventbus/serialization"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

type countingMetrics struct {
	mu sync.Mutex

	published, consumed, publishErrs, consumeErrs int
}

func (m *countingMetrics) IncMessagePublished(context.Context, string) { m.inc(&m.published) }
func (m *countingMetrics) IncMessageConsumed(context.Context, string)  { m.inc(&m.consumed) }
func (m *countingMetrics) IncPublishError(context.Context, string)     { m.inc(&m.publishErrs) }
func (m *countingMetrics) IncConsumeError(context.Context, string)     { m.inc(&m.consumeErrs) }

func (m *countingMetrics) inc(v *int) {
	m.mu.Lock()
	*v++
	m.mu.Unlock()
}

func testConfig() *Config {
	return &Config{
		Brokers:              []string{"localhost:9092"},
		MonitorRequestsTopic: "monitor-requests",
		MonitorOutcomesTopic: "monitor-outcomes",
		GroupID:              "controller",
		ClientID:             "controller-1",
	}
}

func newTestBus(t *testing.T, producer sarama.SyncProducer) (*EventBus, *countingMetrics) {
	t.Helper()
	metrics := new(countingMetrics)
	bus, err := NewEventBus(producer, nil, testConfig(), logger.Noop(), metrics, noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	return bus, metrics
}

func TestNewEventBus_Validation(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()
	tracer := noop.NewTracerProvider().Tracer("test")

	_, err := NewEventBus(nil, nil, testConfig(), logger.Noop(), new(countingMetrics), tracer)
	assert.Error(t, err)

	_, err = NewEventBus(producer, nil, testConfig(), logger.Noop(), nil, tracer)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.MonitorOutcomesTopic = ""
	_, err = NewEventBus(producer, nil, cfg, logger.Noop(), new(countingMetrics), tracer)
	assert.Error(t, err)
}

func TestEventBus_PublishRoutesByEventType(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	bus, metrics := newTestBus(t, producer)

	var sent []*sarama.ProducerMessage
	capture := func(msg *sarama.ProducerMessage) error {
		sent = append(sent, msg)
		return nil
	}
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(capture)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(capture)

	ctx := context.Background()
	req := remotetask.NewRemoteTaskMonitorRequestedEvent("task", "step", "dep-1")
	require.NoError(t, bus.Publish(ctx, events.NewEnvelope(req, "dep-1")))

	failed := remotetask.NewRemoteTaskMonitoringFailedEvent("/v1/ops/1", "dep-1", "boom", false)
	require.NoError(t, bus.Publish(ctx, events.NewEnvelope(failed, ""), events.WithKey("dep-1"),
		events.WithHeaders(map[string]string{"source": "test"})))

	require.Len(t, sent, 2)
	assert.Equal(t, "monitor-requests", sent[0].Topic)
	assert.Equal(t, "monitor-outcomes", sent[1].Topic)

	key, err := sent[1].Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "dep-1", string(key))

	headers := map[string]string{}
	for _, h := range sent[1].Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	assert.Equal(t, string(remotetask.EventTypeRemoteTaskMonitoringFailed), headers[EventTypeHeader])
	assert.Equal(t, "test", headers["source"])

	value, err := sent[1].Value.Encode()
	require.NoError(t, err)
	decoded, err := serialization.DeserializePayload(remotetask.EventTypeRemoteTaskMonitoringFailed, value)
	require.NoError(t, err)
	assert.Equal(t, "boom", decoded.(remotetask.RemoteTaskMonitoringFailedEvent).Reason)

	assert.Equal(t, 2, metrics.published)
	require.NoError(t, producer.Close())
}

func TestEventBus_PublishErrors(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	bus, metrics := newTestBus(t, producer)
	ctx := context.Background()

	err := bus.Publish(ctx, events.EventEnvelope{Type: "Unknown"})
	assert.Error(t, err)

	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	evt := remotetask.NewRemoteTaskMonitorCancelledEvent("dep-1", "")
	err = bus.Publish(ctx, events.NewEnvelope(evt, "dep-1"))
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)

	bad := events.EventEnvelope{Type: remotetask.EventTypeRemoteTaskMonitorCancelled, Payload: "not an event"}
	assert.Error(t, bus.Publish(ctx, bad))

	assert.Equal(t, 2, metrics.publishErrs)
	require.NoError(t, producer.Close())
}

func TestEventBus_SubscribeRequiresConsumerGroup(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()
	bus, _ := newTestBus(t, producer)

	err := bus.Subscribe(context.Background(),
		[]events.EventType{remotetask.EventTypeRemoteTaskMonitorRequested},
		func(context.Context, events.EventEnvelope, events.AckFunc) error { return nil })
	assert.Error(t, err)
}

type fakeSession struct {
	ctx     context.Context
	mu      sync.Mutex
	marked  []int64
	commits int
}

func (s *fakeSession) Claims() map[string][]int32              { return nil }
func (s *fakeSession) MemberID() string                        { return "member" }
func (s *fakeSession) GenerationID() int32                     { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                { return s.ctx }

func (s *fakeSession) Commit() {
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
}

func (s *fakeSession) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}

type fakeClaim struct{ msgs chan *sarama.ConsumerMessage }

func (c *fakeClaim) Topic() string                            { return "monitor-requests" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func consumerMessage(t *testing.T, offset int64, evt events.DomainEvent) *sarama.ConsumerMessage {
	t.Helper()
	data, err := serialization.SerializePayload(evt.EventType(), evt)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{
		Topic:  "monitor-requests",
		Offset: offset,
		Key:    []byte("dep-1"),
		Value:  data,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(EventTypeHeader), Value: []byte(evt.EventType())},
			{Key: []byte("source"), Value: []byte("api")},
		},
	}
}

func TestConsumeClaim(t *testing.T) {
	metrics := new(countingMetrics)
	var received []events.EventEnvelope
	h := &domainEventHandler{
		userHandler: func(_ context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
			received = append(received, evt)
			if _, ok := evt.Payload.(remotetask.RemoteTaskMonitorCancelledEvent); ok {
				ack(errors.New("rejected"))
				return nil
			}
			ack(nil)
			return nil
		},
		wanted: map[events.EventType]struct{}{
			remotetask.EventTypeRemoteTaskMonitorRequested: {},
			remotetask.EventTypeRemoteTaskMonitorCancelled: {},
		},
		commitInterval: time.Hour,
		logger:         logger.Noop(),
		tracer:         noop.NewTracerProvider().Tracer("test"),
		metrics:        metrics,
	}

	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 5)}
	claim.msgs <- consumerMessage(t, 1, remotetask.NewRemoteTaskMonitorRequestedEvent("task", "step", "dep-1"))
	claim.msgs <- consumerMessage(t, 2, remotetask.NewRemoteTaskMonitoringStartedEvent("/v1/ops/1", "dep-1", "k", 0))
	claim.msgs <- &sarama.ConsumerMessage{
		Offset:  3,
		Value:   []byte{0xff, 0xff},
		Headers: []*sarama.RecordHeader{{Key: []byte(EventTypeHeader), Value: []byte(remotetask.EventTypeRemoteTaskMonitorRequested)}},
	}
	claim.msgs <- consumerMessage(t, 4, remotetask.NewRemoteTaskMonitorCancelledEvent("dep-1", ""))
	close(claim.msgs)

	sess := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(sess, claim))

	require.Len(t, received, 2)
	assert.Equal(t, remotetask.EventTypeRemoteTaskMonitorRequested, received[0].Type)
	assert.Equal(t, "dep-1", received[0].Key)
	assert.Equal(t, map[string]string{"source": "api"}, received[0].Headers)
	assert.Equal(t, int64(1), received[0].Metadata.Offset)

	// Acked, unwanted and undecodable messages are marked; nacked ones are not.
	assert.Equal(t, []int64{1, 2, 3}, sess.marked)
	assert.Equal(t, 1, metrics.consumed)
	assert.Equal(t, 2, metrics.consumeErrs)
	assert.Equal(t, 1, sess.commits)
}
