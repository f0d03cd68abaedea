package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// NewMeterProvider creates a new meter provider with the given service name.
// It has no reader attached and is intended for local wiring and tests.
func NewMeterProvider(serviceName string) metric.MeterProvider {
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(NewResource(serviceName)))
}

// GetMeterProvider returns the globally registered meter provider.
func GetMeterProvider() metric.MeterProvider { return otel.GetMeterProvider() }

// NewResource creates a new OpenTelemetry resource with service name and any
// additional attributes.
func NewResource(serviceName string, extra ...attribute.KeyValue) *resource.Resource {
	attrs := make([]attribute.KeyValue, 0, len(extra)+1)
	attrs = append(attrs, semconv.ServiceNameKey.String(serviceName))
	attrs = append(attrs, extra...)
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}
