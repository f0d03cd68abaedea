package kafka

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EventBusMetrics defines metrics operations needed to monitor Kafka message handling.
// It enables tracking of successful and failed message publishing/consumption.
type EventBusMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

type eventBusMetrics struct {
	published     metric.Int64Counter
	consumed      metric.Int64Counter
	publishErrors metric.Int64Counter
	consumeErrors metric.Int64Counter
}

var _ EventBusMetrics = (*eventBusMetrics)(nil)

// NewEventBusMetrics creates OpenTelemetry backed event bus metrics.
func NewEventBusMetrics(mp metric.MeterProvider) (EventBusMetrics, error) {
	meter := mp.Meter("kafka_event_bus", metric.WithInstrumentationVersion("v0.1.0"))

	m := new(eventBusMetrics)
	var err error

	if m.published, err = meter.Int64Counter("messages_published_total",
		metric.WithDescription("Total number of messages published")); err != nil {
		return nil, err
	}
	if m.consumed, err = meter.Int64Counter("messages_consumed_total",
		metric.WithDescription("Total number of messages consumed")); err != nil {
		return nil, err
	}
	if m.publishErrors, err = meter.Int64Counter("publish_errors_total",
		metric.WithDescription("Total number of publish errors")); err != nil {
		return nil, err
	}
	if m.consumeErrors, err = meter.Int64Counter("consume_errors_total",
		metric.WithDescription("Total number of consume errors")); err != nil {
		return nil, err
	}

	return m, nil
}

func topicAttr(topic string) metric.AddOption {
	return metric.WithAttributes(attribute.String("topic", topic))
}

func (m *eventBusMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.published.Add(ctx, 1, topicAttr(topic))
}

func (m *eventBusMetrics) IncMessageConsumed(ctx context.Context, topic string) {
	m.consumed.Add(ctx, 1, topicAttr(topic))
}

func (m *eventBusMetrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, topicAttr(topic))
}

func (m *eventBusMetrics) IncConsumeError(ctx context.Context, topic string) {
	m.consumeErrors.Add(ctx, 1, topicAttr(topic))
}
