package polling

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels for finished sessions.
const (
	OutcomeSucceeded     = "succeeded"
	OutcomeRemoteFailed  = "remote_failed"
	OutcomeTimeout       = "timeout"
	OutcomeRetryBudget   = "retry_budget_exceeded"
	OutcomeQueryError    = "query_error"
	OutcomeCancelled     = "cancelled"
	OutcomePersistFailed = "persistence_failed"
)

// Metrics records polling activity.
type Metrics interface {
	IncPolls(ctx context.Context)
	IncNotFound(ctx context.Context)
	IncSessionsStarted(ctx context.Context)
	// ObserveSessionEnd records the outcome and duration of a session that
	// previously counted as started.
	ObserveSessionEnd(ctx context.Context, outcome string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) IncPolls(context.Context)                                {}
func (noopMetrics) IncNotFound(context.Context)                             {}
func (noopMetrics) IncSessionsStarted(context.Context)                      {}
func (noopMetrics) ObserveSessionEnd(context.Context, string, time.Duration) {}

type pollingMetrics struct {
	polls           metric.Int64Counter
	notFound        metric.Int64Counter
	sessionsStarted metric.Int64Counter
	activeSessions  metric.Int64UpDownCounter
	sessionOutcomes metric.Int64Counter
	sessionDuration metric.Float64Histogram
}

var _ Metrics = (*pollingMetrics)(nil)

const namespace = "remote_task_polling"

// NewMetrics creates OpenTelemetry backed polling metrics.
func NewMetrics(mp metric.MeterProvider) (*pollingMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(pollingMetrics)
	var err error

	if m.polls, err = meter.Int64Counter(
		"status_polls_total",
		metric.WithDescription("Total number of remote task status queries"),
	); err != nil {
		return nil, err
	}

	if m.notFound, err = meter.Int64Counter(
		"status_not_found_total",
		metric.WithDescription("Total number of status queries that found no remote task record"),
	); err != nil {
		return nil, err
	}

	if m.sessionsStarted, err = meter.Int64Counter(
		"sessions_started_total",
		metric.WithDescription("Total number of monitoring sessions started"),
	); err != nil {
		return nil, err
	}

	if m.activeSessions, err = meter.Int64UpDownCounter(
		"sessions_active",
		metric.WithDescription("Number of monitoring sessions currently polling"),
	); err != nil {
		return nil, err
	}

	if m.sessionOutcomes, err = meter.Int64Counter(
		"session_outcomes_total",
		metric.WithDescription("Total number of finished monitoring sessions by outcome"),
	); err != nil {
		return nil, err
	}

	if m.sessionDuration, err = meter.Float64Histogram(
		"session_duration_seconds",
		metric.WithDescription("Wall clock duration of monitoring sessions"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 60, 300, 900, 1800, 3600, 7200),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *pollingMetrics) IncPolls(ctx context.Context)    { m.polls.Add(ctx, 1) }
func (m *pollingMetrics) IncNotFound(ctx context.Context) { m.notFound.Add(ctx, 1) }

func (m *pollingMetrics) IncSessionsStarted(ctx context.Context) {
	m.sessionsStarted.Add(ctx, 1)
	m.activeSessions.Add(ctx, 1)
}

func (m *pollingMetrics) ObserveSessionEnd(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.activeSessions.Add(ctx, -1)
	m.sessionOutcomes.Add(ctx, 1, attrs)
	m.sessionDuration.Record(ctx, d.Seconds(), attrs)
}
