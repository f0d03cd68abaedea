package polling

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/deploy-armada/internal/domain/events"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
	"github.com/ahrav/deploy-armada/pkg/common/timeutil"
)

// Transitions names the lifecycle states an entity moves to when its remote
// task finishes or fails.
type Transitions struct {
	Success remotetask.LifecycleState
	Failure remotetask.LifecycleState
}

// MonitorRequest describes one monitoring session.
type MonitorRequest struct {
	Link        remotetask.Link
	Entity      *remotetask.EntityRef
	Kind        remotetask.OperationKind
	Transitions Transitions

	// TaskContext receives the id of an entity produced by the remote task. Optional.
	TaskContext remotetask.ResultRecorder

	// Config overrides the controller's polling configuration for this
	// session. Zero fields keep the controller's values. Optional.
	Config *Config
}

// Result is the outcome of a session that finished successfully.
type Result struct {
	State          remotetask.LifecycleState
	ResultEntityID string
	Remote         remotetask.State
}

// Progress reports how far a remote task got relative to the substage that
// covers the monitored operation.
type Progress struct {
	Substage       int
	TargetSubstage int
}

// ProgressReporter receives progress updates. It must not block and cannot
// influence polling.
type ProgressReporter func(ctx context.Context, entity remotetask.EntityRef, p Progress)

// Controller binds remote task polling to entity lifecycle transitions.
type Controller struct {
	query    remotetask.StatusQuery
	updater  remotetask.EntityStateUpdater
	resolver remotetask.SubstageResolver

	cfg       Config
	publisher events.DomainEventPublisher
	progress  ProgressReporter
	clock     timeutil.Provider

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithConfig sets the default polling configuration for sessions.
func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg.merge(DefaultConfig()) }
}

// WithPublisher publishes monitoring lifecycle events.
func WithPublisher(p events.DomainEventPublisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithProgressReporter registers a progress callback.
func WithProgressReporter(r ProgressReporter) Option {
	return func(c *Controller) { c.progress = r }
}

// WithClock sets the clock used to measure session time.
func WithClock(clock timeutil.Provider) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Controller) { c.logger = log }
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) { c.tracer = tracer }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController creates a Controller.
func NewController(
	query remotetask.StatusQuery,
	updater remotetask.EntityStateUpdater,
	resolver remotetask.SubstageResolver,
	opts ...Option,
) *Controller {
	c := &Controller{
		query:    query,
		updater:  updater,
		resolver: resolver,
		cfg:      DefaultConfig(),
		clock:    timeutil.Default(),
		logger:   logger.Noop(),
		tracer:   noop.NewTracerProvider().Tracer("polling"),
		metrics:  noopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "remote_task_controller")
	return c
}

// NewSession validates req and returns a session ready to start. Invalid
// requests fail here, before any status query.
func (c *Controller) NewSession(req MonitorRequest) (*Session, error) {
	if req.Entity == nil {
		return nil, remotetask.NewInvalidSessionStartError("entity reference is required")
	}
	if req.Entity.ID == "" {
		return nil, remotetask.NewInvalidSessionStartError("entity id is required")
	}
	if req.Link.IsZero() {
		return nil, remotetask.NewInvalidSessionStartError("remote task link is required")
	}
	if req.Transitions.Success == "" || req.Transitions.Failure == "" {
		return nil, remotetask.NewInvalidSessionStartError("success and failure transitions are required")
	}

	target, err := c.resolver.Resolve(req.Kind)
	if err != nil {
		return nil, err
	}

	cfg := c.cfg
	if req.Config != nil {
		cfg = req.Config.merge(c.cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, remotetask.NewInvalidSessionStartError(fmt.Sprintf("invalid polling config: %v", err))
	}

	return newSession(c, req, target, cfg), nil
}

// Monitor runs a fresh session for req to completion.
func (c *Controller) Monitor(ctx context.Context, req MonitorRequest) (*Result, error) {
	sess, err := c.NewSession(req)
	if err != nil {
		return nil, err
	}
	return sess.Start(ctx)
}

func (c *Controller) publish(ctx context.Context, evt events.DomainEvent, key string) {
	if c.publisher == nil {
		return
	}
	// Lifecycle events are still published when the session was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := c.publisher.PublishDomainEvent(ctx, evt, events.WithKey(key)); err != nil {
		c.logger.Warn(ctx, "failed to publish monitoring event", "event_type", evt.EventType(), "error", err)
	}
}
