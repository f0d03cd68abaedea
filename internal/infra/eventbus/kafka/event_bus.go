// Package kafka provides a Kafka-based implementation of the event bus for asynchronous messaging.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/deploy-armada/internal/domain/events"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	"github.com/ahrav/deploy-armada/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/deploy-armada/internal/infra/eventbus/serialization"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

// EventTypeHeader names the record header carrying the domain event type.
const EventTypeHeader = "event-type"

// Config contains settings for connecting to and interacting with Kafka brokers.
// It defines the topics, consumer group, and client identifiers needed for message routing.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string

	// MonitorRequestsTopic carries monitor and cancel requests into the controller.
	MonitorRequestsTopic string
	// MonitorOutcomesTopic carries session progress and outcomes out of the controller.
	MonitorOutcomesTopic string

	// GroupID identifies the consumer group for this broker instance.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements the EventBus interface using Kafka as the underlying message broker.
// It handles publishing and subscribing to domain events across distributed services.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	client        io.Closer

	// Maps domain event types to their Kafka topics
	topicMap map[events.EventType]string

	commitInterval time.Duration

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

// NewEventBus creates an EventBus on top of an existing producer and consumer group.
// consumerGroup may be nil for publish-only buses.
func NewEventBus(
	producer sarama.SyncProducer,
	consumerGroup sarama.ConsumerGroup,
	cfg *Config,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	if producer == nil {
		return nil, errors.New("producer is required for kafka event bus")
	}
	if metrics == nil {
		return nil, errors.New("metrics are required for kafka event bus")
	}
	if cfg.MonitorRequestsTopic == "" || cfg.MonitorOutcomesTopic == "" {
		return nil, errors.New("monitor requests and outcomes topics are required")
	}

	logger = logger.With(
		"component", "kafka_event_bus",
		"client_id", cfg.ClientID,
		"group_id", cfg.GroupID,
	)

	topicMap := map[events.EventType]string{
		remotetask.EventTypeRemoteTaskMonitorRequested:    cfg.MonitorRequestsTopic, // api -> controller
		remotetask.EventTypeRemoteTaskMonitorCancelled:    cfg.MonitorRequestsTopic, // api -> controller
		remotetask.EventTypeRemoteTaskMonitoringStarted:   cfg.MonitorOutcomesTopic, // controller -> api
		remotetask.EventTypeRemoteTaskSubstageReached:     cfg.MonitorOutcomesTopic, // controller -> api
		remotetask.EventTypeRemoteTaskMonitoringSucceeded: cfg.MonitorOutcomesTopic, // controller -> api
		remotetask.EventTypeRemoteTaskMonitoringFailed:    cfg.MonitorOutcomesTopic, // controller -> api
	}

	return &EventBus{
		producer:       producer,
		consumerGroup:  consumerGroup,
		topicMap:       topicMap,
		commitInterval: time.Second,
		logger:         logger,
		metrics:        metrics,
		tracer:         tracer,
	}, nil
}

// Publish sends a domain event to the Kafka topic mapped to its type.
// It handles serialization, routing based on event type, and includes
// observability instrumentation for tracing and metrics.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	topic, ok := b.topicMap[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type '%s', no topic mapped", event.Type)
	}

	ctx, span := tracing.StartProducerSpan(ctx, topic, b.tracer)
	defer span.End()

	params := events.ApplyOptions(opts...)
	if params.Key != "" {
		event.Key = params.Key
	}
	if params.Headers != nil {
		event.Headers = params.Headers
	}
	span.SetAttributes(
		attribute.String("event.type", string(event.Type)),
		attribute.String("event.key", event.Key),
	)

	msgBytes, err := serialization.SerializePayload(event.Type, event.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize payload")
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(event.Key),
		Value:   sarama.ByteEncoder(msgBytes),
		Headers: []sarama.RecordHeader{{Key: []byte(EventTypeHeader), Value: []byte(event.Type)}},
	}
	if !event.Timestamp.IsZero() {
		kafkaMsg.Timestamp = event.Timestamp
	}
	for k, v := range event.Headers {
		if k == EventTypeHeader {
			continue
		}
		kafkaMsg.Headers = append(kafkaMsg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	tracing.InjectTraceContext(ctx, kafkaMsg)

	partition, offset, err := b.producer.SendMessage(kafkaMsg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, err)
	}
	b.metrics.IncMessagePublished(ctx, topic)
	span.SetStatus(codes.Ok, "message published")

	b.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"key", event.Key,
		"event_type", event.Type,
	)

	return nil
}

// Subscribe registers a handler function to process domain events from specified event types.
// It manages consumer group membership and message processing in a separate goroutine
// that runs until ctx is cancelled.
func (b *EventBus) Subscribe(
	ctx context.Context,
	eventTypes []events.EventType,
	handler events.HandlerFunc,
) error {
	_, span := b.tracer.Start(ctx, "kafka_event_bus.subscribe",
		trace.WithAttributes(attribute.String("component", "kafka_event_bus")))
	defer span.End()

	if b.consumerGroup == nil {
		err := errors.New("subscribe: event bus has no consumer group")
		span.RecordError(err)
		span.SetStatus(codes.Error, "no consumer group")
		return err
	}

	var topics []string
	topicSet := make(map[string]struct{})
	wanted := make(map[events.EventType]struct{}, len(eventTypes))
	for _, et := range eventTypes {
		topic, ok := b.topicMap[et]
		if !ok {
			err := fmt.Errorf("subscribe: unknown event type %s", et)
			span.RecordError(err)
			span.SetStatus(codes.Error, "unknown event type")
			return err
		}
		wanted[et] = struct{}{}
		if _, seen := topicSet[topic]; !seen {
			topicSet[topic] = struct{}{}
			topics = append(topics, topic)
		}
	}
	span.AddEvent("topics_collected", trace.WithAttributes(attribute.StringSlice("topics", topics)))

	cgHandler := &domainEventHandler{
		userHandler:    handler,
		wanted:         wanted,
		commitInterval: b.commitInterval,
		logger:         b.logger,
		tracer:         b.tracer,
		metrics:        b.metrics,
	}
	go b.consumeLoop(ctx, topics, cgHandler)
	b.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes, "topics", topics)

	return nil
}

// consumeLoop maintains a continuous consumer group session for processing messages.
func (b *EventBus) consumeLoop(ctx context.Context, topics []string, h sarama.ConsumerGroupHandler) {
	for {
		if err := b.consumerGroup.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			b.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Close gracefully shuts down the event bus by closing producer, consumer and client connections.
func (b *EventBus) Close() error {
	logger := b.logger.With("operation", "close")
	ctx, span := b.tracer.Start(context.Background(), "kafka_event_bus.close")
	defer span.End()

	var errs []error
	if err := b.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing producer: %w", err))
	}
	if b.consumerGroup != nil {
		if err := b.consumerGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing consumer group: %w", err))
		}
	}
	if b.client != nil {
		if err := b.client.Close(); err != nil && !errors.Is(err, sarama.ErrClosedClient) {
			errs = append(errs, fmt.Errorf("closing client: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close event bus")
		logger.Error(ctx, "Failed to close event bus", "error", err)
		return err
	}

	span.SetStatus(codes.Ok, "closed event bus")
	logger.Info(ctx, "Closed event bus")
	return nil
}
