package otel

import (
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// endpointExcluder drops spans for excluded routes (health and readiness
// probes) and defers everything else to a ratio based sampler.
type endpointExcluder struct {
	endpoints   map[string]struct{}
	probability float64
}

func newEndpointExcluder(endpoints map[string]struct{}, probability float64) endpointExcluder {
	return endpointExcluder{endpoints: endpoints, probability: probability}
}

// ShouldSample implements the sampler interface.
func (ee endpointExcluder) ShouldSample(parameters sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if route, ok := routeOf(parameters.Attributes); ok {
		if _, exclude := ee.endpoints[route]; exclude {
			return sdktrace.SamplingResult{Decision: sdktrace.Drop}
		}
	}

	return sdktrace.TraceIDRatioBased(ee.probability).ShouldSample(parameters)
}

// Description implements the sampler interface.
func (endpointExcluder) Description() string { return "customSampler" }

func routeOf(attrs []attribute.KeyValue) (string, bool) {
	for _, attr := range attrs {
		if attr.Key == semconv.HTTPTargetKey || attr.Key == "url.path" || attr.Key == "http.route" {
			return attr.Value.AsString(), true
		}
	}
	return "", false
}
