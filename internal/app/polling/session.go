package polling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

// SessionState is the controller level state of a monitoring session.
type SessionState string

const (
	SessionInitial   SessionState = "INITIAL"
	SessionPolling   SessionState = "POLLING"
	SessionSucceeded SessionState = "SUCCEEDED"
	SessionFailed    SessionState = "FAILED"
)

// IsTerminal reports whether the session can no longer be started.
func (s SessionState) IsTerminal() bool { return s == SessionSucceeded || s == SessionFailed }

// Session monitors one remote task on behalf of one entity. A session runs at
// most once.
type Session struct {
	ctrl   *Controller
	req    MonitorRequest
	target int
	cfg    Config

	mu    sync.Mutex
	state SessionState

	// lastSubstage is -1 until a substage has been observed.
	lastSubstage atomic.Int64

	logger *logger.Logger
}

func newSession(c *Controller, req MonitorRequest, target int, cfg Config) *Session {
	s := &Session{
		ctrl:   c,
		req:    req,
		target: target,
		cfg:    cfg,
		state:  SessionInitial,
		logger: c.logger.With(
			"link", req.Link.String(),
			"entity_id", entityID(req.Entity),
			"operation", req.Kind.String(),
		),
	}
	s.lastSubstage.Store(-1)
	return s
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSubstage returns the most recently observed substage ordinal, if any.
func (s *Session) LastSubstage() (int, bool) {
	v := s.lastSubstage.Load()
	return int(v), v >= 0
}

// TargetSubstage returns the substage ordinal covering the monitored operation.
func (s *Session) TargetSubstage() int { return s.target }

// Config returns the effective polling configuration of the session.
func (s *Session) Config() Config { return s.cfg }

func (s *Session) transition(to SessionState) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
}

// Start polls the remote task until a terminal outcome and applies exactly one
// entity transition for it. Loop failures leave the entity untouched. Start on
// a session that is not INITIAL fails with *remotetask.SessionStateError and
// has no side effects.
func (s *Session) Start(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.state != SessionInitial {
		current := s.state
		s.mu.Unlock()
		return nil, remotetask.NewSessionStateError(string(current), "start")
	}
	s.state = SessionPolling
	s.mu.Unlock()

	c := s.ctrl
	ctx, span := c.tracer.Start(ctx, "remote_task_controller.session",
		trace.WithAttributes(
			attribute.String("remote_task.link", s.req.Link.String()),
			attribute.String("entity.id", s.req.Entity.ID),
			attribute.String("entity.kind", s.req.Entity.Kind),
			attribute.String("operation", s.req.Kind.String()),
			attribute.Int("target_substage", s.target),
		))
	defer span.End()

	startedAt := c.clock.Now()
	c.metrics.IncSessionsStarted(ctx)
	c.publish(ctx, remotetask.NewRemoteTaskMonitoringStartedEvent(s.req.Link, s.req.Entity.ID, s.req.Kind, s.target), s.req.Entity.ID)
	s.logger.Info(ctx, "monitoring remote task", "target_substage", s.target, "timeout", s.cfg.Timeout)

	loop := NewPollLoop(s.cfg,
		WithLoopClock(c.clock),
		WithLoopLogger(c.logger),
		WithLoopTracer(c.tracer),
		WithLoopMetrics(c.metrics),
	)

	query := func(ctx context.Context) (remotetask.Observation, error) {
		return c.query.QueryStatus(ctx, s.req.Link)
	}

	remote, err := loop.Run(ctx, s.req.Link, query, s.observe)

	var (
		res     *Result
		outcome string
	)
	switch {
	case err != nil:
		outcome = loopOutcome(err)
		s.logger.Warn(ctx, "monitoring ended without a remote outcome",
			"error", err, "status_unknown", remotetask.IsStatusUnknown(err))
	case remote.Stage() == remotetask.StageFinished:
		res, err = s.succeed(ctx, remote)
		outcome = OutcomeSucceeded
	default:
		err = s.failRemote(ctx, remote)
		outcome = OutcomeRemoteFailed
	}

	var persistErr *remotetask.PersistenceError
	if errors.As(err, &persistErr) {
		outcome = OutcomePersistFailed
	}
	c.metrics.ObserveSessionEnd(ctx, outcome, c.clock.Now().Sub(startedAt))

	if err != nil {
		s.transition(SessionFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.publish(ctx, remotetask.NewRemoteTaskMonitoringFailedEvent(
			s.req.Link, s.req.Entity.ID, err.Error(), remotetask.IsStatusUnknown(err)), s.req.Entity.ID)
		return nil, err
	}

	s.transition(SessionSucceeded)
	span.SetStatus(codes.Ok, "remote task finished")
	c.publish(ctx, remotetask.NewRemoteTaskMonitoringSucceededEvent(
		s.req.Link, s.req.Entity.ID, res.State, res.ResultEntityID), s.req.Entity.ID)
	return res, nil
}

// observe records substage progress. It never influences loop control.
func (s *Session) observe(ctx context.Context, state remotetask.State) {
	substage, ok := state.Substage()
	if !ok {
		return
	}

	prev := s.lastSubstage.Swap(int64(substage))
	if s.ctrl.progress != nil {
		s.ctrl.progress(ctx, *s.req.Entity, Progress{Substage: substage, TargetSubstage: s.target})
	}
	if prev == int64(substage) {
		return
	}

	trace.SpanFromContext(ctx).AddEvent("substage_reached", trace.WithAttributes(attribute.Int("substage", substage)))
	s.logger.Debug(ctx, "remote task reached substage", "substage", substage, "target_substage", s.target)
	s.ctrl.publish(ctx,
		remotetask.NewRemoteTaskSubstageReachedEvent(s.req.Link, s.req.Entity.ID, substage, s.target),
		s.req.Entity.ID)
}

// succeed records the produced entity, if any, then applies the success transition.
func (s *Session) succeed(ctx context.Context, remote remotetask.State) (*Result, error) {
	entity := s.req.Entity
	resultID := remote.ResultEntityID()

	if resultID != "" && s.req.TaskContext != nil {
		if err := s.req.TaskContext.RecordResultEntity(ctx, resultID); err != nil {
			return nil, remotetask.NewPersistenceError(entity.ID, "record_result_entity", err)
		}
	}

	if err := s.ctrl.updater.SetState(ctx, entity.ID, s.req.Transitions.Success); err != nil {
		return nil, remotetask.NewPersistenceError(entity.ID, "set_state", err)
	}

	s.logger.Info(ctx, "remote task finished", "state", s.req.Transitions.Success, "result_entity_id", resultID)
	return &Result{State: s.req.Transitions.Success, ResultEntityID: resultID, Remote: remote}, nil
}

// failRemote moves the entity to its failure state when a reference is held
// and always returns the remote failure.
func (s *Session) failRemote(ctx context.Context, remote remotetask.State) error {
	msg := remote.FailureReason()
	if msg == "" {
		msg = "remote task " + strings.ToLower(remote.Stage().String())
	}

	id := entityID(s.req.Entity)
	failure := remotetask.NewRemoteTaskFailedError(id, remote.Stage(), msg)
	// NewSession rejects a missing entity; only sessions built directly with
	// newSession reach this branch.
	if id == "" {
		s.logger.Warn(ctx, "remote task failed with no entity attached", "reason", msg)
		return failure
	}

	s.logger.Info(ctx, "remote task failed, marking entity", "state", s.req.Transitions.Failure, "reason", msg)
	if err := s.ctrl.updater.SetState(ctx, id, s.req.Transitions.Failure); err != nil {
		return errors.Join(failure, remotetask.NewPersistenceError(id, "set_state", err))
	}
	return failure
}

func loopOutcome(err error) string {
	var (
		timeout *remotetask.TimeoutError
		budget  *remotetask.ExceededRetryBudgetError
		query   *remotetask.StatusQueryError
	)
	switch {
	case errors.As(err, &timeout):
		return OutcomeTimeout
	case errors.As(err, &budget):
		return OutcomeRetryBudget
	case errors.As(err, &query):
		return OutcomeQueryError
	default:
		return OutcomeCancelled
	}
}

func entityID(e *remotetask.EntityRef) string {
	if e == nil {
		return ""
	}
	return e.ID
}
