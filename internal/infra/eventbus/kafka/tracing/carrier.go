package tracing

import (
	"context"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
)

// MessageCarrier implements propagation.TextMapCarrier for Kafka message headers
type MessageCarrier struct {
	Headers []sarama.RecordHeader
}

func (mc *MessageCarrier) Get(key string) string {
	for _, h := range mc.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (mc *MessageCarrier) Set(key, value string) {
	for i, h := range mc.Headers {
		if string(h.Key) == key {
			mc.Headers[i].Value = []byte(value)
			return
		}
	}
	mc.Headers = append(mc.Headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (mc *MessageCarrier) Keys() []string {
	out := make([]string, len(mc.Headers))
	for i, h := range mc.Headers {
		out[i] = string(h.Key)
	}
	return out
}

// InjectTraceContext adds the current trace context to Kafka message headers
func InjectTraceContext(ctx context.Context, msg *sarama.ProducerMessage) {
	carrier := &MessageCarrier{Headers: msg.Headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	msg.Headers = carrier.Headers
}

// ExtractTraceContext retrieves trace context from Kafka message headers
func ExtractTraceContext(ctx context.Context, msg *sarama.ConsumerMessage) context.Context {
	headers := make([]sarama.RecordHeader, 0, len(msg.Headers))
	for _, h := range msg.Headers {
		if h != nil {
			headers = append(headers, *h)
		}
	}
	return otel.GetTextMapPropagator().Extract(ctx, &MessageCarrier{Headers: headers})
}
