// Package progressreporter reports how far monitored remote tasks have got.
// Each observation is logged, attached to the active span and counted.
package progressreporter

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/deploy-armada/internal/app/polling"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

// Reporter turns polling progress into telemetry.
type Reporter struct {
	logger       *logger.Logger
	observations metric.Int64Counter
}

// New creates a Reporter.
func New(log *logger.Logger, mp metric.MeterProvider) (*Reporter, error) {
	meter := mp.Meter("remote_task_progress", metric.WithInstrumentationVersion("v0.1.0"))
	observations, err := meter.Int64Counter(
		"substage_observations_total",
		metric.WithDescription("Total number of substage observations reported by remote tasks"),
	)
	if err != nil {
		return nil, err
	}

	return &Reporter{
		logger:       log.With("component", "progress_reporter"),
		observations: observations,
	}, nil
}

// Report has the signature of polling.ProgressReporter.
func (r *Reporter) Report(ctx context.Context, entity remotetask.EntityRef, p polling.Progress) {
	reached := p.Substage >= p.TargetSubstage

	trace.SpanFromContext(ctx).AddEvent("substage_observed", trace.WithAttributes(
		attribute.String("entity_id", entity.ID),
		attribute.Int("substage", p.Substage),
		attribute.Int("target_substage", p.TargetSubstage),
	))

	r.observations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity_kind", entity.Kind),
		attribute.Bool("reached_target", reached),
	))

	r.logger.Debug(ctx, "remote task progress",
		"entity_id", entity.ID,
		"entity_kind", entity.Kind,
		"substage", p.Substage,
		"target_substage", p.TargetSubstage,
		"reached_target", reached,
	)
}
