package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestEndpointExcluder(t *testing.T) {
	excluder := newEndpointExcluder(map[string]struct{}{"/v1/health": {}}, 1.0)

	tests := []struct {
		name  string
		attrs []attribute.KeyValue
		want  sdktrace.SamplingDecision
	}{
		{
			name:  "excluded route is dropped",
			attrs: []attribute.KeyValue{attribute.String("http.target", "/v1/health")},
			want:  sdktrace.Drop,
		},
		{
			name:  "other route is sampled",
			attrs: []attribute.KeyValue{attribute.String("url.path", "/tasks/1")},
			want:  sdktrace.RecordAndSample,
		},
		{
			name: "no route attribute is sampled",
			want: sdktrace.RecordAndSample,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := excluder.ShouldSample(sdktrace.SamplingParameters{
				ParentContext: context.Background(),
				TraceID:       trace.TraceID{1},
				Name:          "GET",
				Attributes:    tt.attrs,
			})
			assert.Equal(t, tt.want, res.Decision)
		})
	}
}

func TestGetTraceID(t *testing.T) {
	assert.Equal(t, "00000000000000000000000000000000", GetTraceID(context.Background()))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{0xab},
		SpanID:  trace.SpanID{0x01},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	assert.Equal(t, sc.TraceID().String(), GetTraceID(ctx))
}
