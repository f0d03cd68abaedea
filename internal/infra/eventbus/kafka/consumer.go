package kafka

import (
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/deploy-armada/internal/domain/events"
	"github.com/ahrav/deploy-armada/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/deploy-armada/internal/infra/eventbus/serialization"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

// domainEventHandler implements sarama.ConsumerGroupHandler to process Kafka messages
// and convert them into domain events for the application.
type domainEventHandler struct {
	userHandler    events.HandlerFunc
	wanted         map[events.EventType]struct{}
	commitInterval time.Duration

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

func (h *domainEventHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(), "Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *domainEventHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(), "Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim processes messages from an assigned partition, deserializing them into
// domain events and invoking the user-provided handler. Messages whose type the
// subscriber did not ask for are marked and skipped.
func (h *domainEventHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	log := h.logger.With("operation", "consume_claim", "topic", claim.Topic(), "partition", claim.Partition())
	log.Info(sess.Context(), "Starting to consume from partition", "member_id", sess.MemberID())

	lastCommit := time.Now()
	defer sess.Commit()

	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.process(sess, msg, log, &lastCommit)
		}
	}
}

func (h *domainEventHandler) process(
	sess sarama.ConsumerGroupSession,
	msg *sarama.ConsumerMessage,
	log *logger.Logger,
	lastCommit *time.Time,
) {
	msgCtx := tracing.ExtractTraceContext(sess.Context(), msg)
	msgCtx, span := tracing.StartConsumerSpan(msgCtx, msg, h.tracer)
	defer span.End()

	evtType, headers := readHeaders(msg)
	if _, ok := h.wanted[evtType]; !ok {
		sess.MarkMessage(msg, "")
		return
	}

	payload, err := serialization.DeserializePayload(evtType, msg.Value)
	if err != nil {
		// Poison messages are skipped so they do not block the partition.
		sess.MarkMessage(msg, "")
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize payload")
		h.metrics.IncConsumeError(msgCtx, msg.Topic)
		log.Error(msgCtx, "Dropping undecodable message", "error", err, "offset", msg.Offset, "event_type", evtType)
		return
	}

	timestamp := msg.Timestamp
	if de, ok := payload.(events.DomainEvent); ok {
		timestamp = de.OccurredAt()
	}

	evt := events.EventEnvelope{
		Type:      evtType,
		Key:       string(msg.Key),
		Headers:   headers,
		Timestamp: timestamp,
		Payload:   payload,
		Metadata:  events.EventMetadata{Partition: msg.Partition, Offset: msg.Offset},
	}

	log.Debug(msgCtx, "Received Kafka message", "offset", msg.Offset, "event_type", evtType, "key", evt.Key)

	ack := func(err error) {
		ackCtx, ackSpan := h.tracer.Start(msgCtx, "kafka_consumer.acknowledge",
			trace.WithLinks(trace.LinkFromContext(msgCtx)))
		defer ackSpan.End()

		if err != nil {
			log.Error(ackCtx, "Message processing failed", "error", err, "offset", msg.Offset)
			h.metrics.IncConsumeError(ackCtx, msg.Topic)
			ackSpan.RecordError(err)
			ackSpan.SetStatus(codes.Error, "failed to process message")
			return
		}
		h.metrics.IncMessageConsumed(ackCtx, msg.Topic)
		sess.MarkMessage(msg, "")

		if time.Since(*lastCommit) > h.commitInterval {
			sess.Commit()
			*lastCommit = time.Now()
			log.Debug(ackCtx, "Committed offsets", "offset", msg.Offset)
		}
	}

	if err := h.userHandler(msgCtx, evt, ack); err != nil {
		log.Error(msgCtx, "Failed to handle message", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
	}
}

// readHeaders returns the event type and the remaining application headers.
func readHeaders(msg *sarama.ConsumerMessage) (events.EventType, map[string]string) {
	var evtType events.EventType
	var headers map[string]string
	for _, h := range msg.Headers {
		if h == nil {
			continue
		}
		key := string(h.Key)
		switch key {
		case EventTypeHeader:
			evtType = events.EventType(h.Value)
		case "traceparent", "tracestate", "baggage":
		default:
			if headers == nil {
				headers = make(map[string]string)
			}
			headers[key] = string(h.Value)
		}
	}
	return evtType, headers
}

var _ sarama.ConsumerGroupHandler = (*domainEventHandler)(nil)

