package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/deploy-armada/internal/app/cluster"
	"github.com/ahrav/deploy-armada/internal/app/polling"
	"github.com/ahrav/deploy-armada/internal/domain/events"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	eventdispatcher "github.com/ahrav/deploy-armada/internal/infra/event_dispatcher"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

// ErrRunnerStopped is reported for requests that arrive while the runner
// is shutting down.
var ErrRunnerStopped = errors.New("monitoring runner stopped")

// StepExecutor runs the monitoring step of a task.
type StepExecutor interface {
	Execute(ctx context.Context, taskID, stepID uuid.UUID) (*polling.Result, error)
}

// Runner consumes monitor requests and runs one session per request on its
// own goroutine.
type Runner struct {
	bus      events.EventBus
	step     StepExecutor
	registry *SessionRegistry

	mu      sync.Mutex
	current *run

	logger *logger.Logger
	tracer trace.Tracer
}

var _ events.EventHandler = (*Runner)(nil)

// NewRunner creates a Runner.
func NewRunner(
	bus events.EventBus,
	step StepExecutor,
	registry *SessionRegistry,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Runner {
	return &Runner{
		bus:      bus,
		step:     step,
		registry: registry,
		logger:   logger.With("component", "monitoring_runner"),
		tracer:   tracer,
	}
}

// run tracks the sessions started during one call to Run.
type run struct {
	mu      sync.Mutex
	closing bool
	ctx     context.Context
	g       *errgroup.Group
}

// Run subscribes to monitor requests and blocks until ctx ends. Active sessions
// are then cancelled and Run waits for them to exit.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	// Sessions end only through the registry so that they observe the
	// termination reason rather than the parent's cancellation.
	rs := &run{ctx: context.WithoutCancel(gctx), g: g}

	r.mu.Lock()
	if r.current != nil {
		r.mu.Unlock()
		return errors.New("monitoring runner already running")
	}
	r.current = rs
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
	}()

	dispatcher := eventdispatcher.New("monitoring_runner", r.tracer, r.logger)
	if err := dispatcher.RegisterHandler(ctx, r); err != nil {
		return err
	}
	if err := r.bus.Subscribe(gctx, dispatcher.EventTypes(), dispatcher.Dispatch); err != nil {
		return fmt.Errorf("subscribing to monitor requests: %w", err)
	}
	r.logger.Info(ctx, "monitoring runner started")

	<-gctx.Done()

	rs.mu.Lock()
	rs.closing = true
	rs.mu.Unlock()

	var reason terminationReason
	if !errors.As(context.Cause(ctx), &reason) {
		reason = ShutdownEvent
	}
	r.registry.CancelAll(reason)

	err := g.Wait()
	r.logger.Info(context.WithoutCancel(ctx), "monitoring runner stopped", "reason", reason)
	return err
}

// SupportedEvents lists the events the Runner consumes.
func (r *Runner) SupportedEvents() []events.EventType {
	return []events.EventType{
		remotetask.EventTypeRemoteTaskMonitorRequested,
		remotetask.EventTypeRemoteTaskMonitorCancelled,
	}
}

// HandleEvent starts or cancels a session. Requests are acknowledged as soon
// as the session is dispatched; its outcome travels as separate events.
func (r *Runner) HandleEvent(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	switch p := evt.Payload.(type) {
	case remotetask.RemoteTaskMonitorRequestedEvent:
		r.mu.Lock()
		rs := r.current
		r.mu.Unlock()
		if rs == nil {
			ack(ErrRunnerStopped)
			return ErrRunnerStopped
		}
		return r.startSession(ctx, rs, p, ack)

	case remotetask.RemoteTaskMonitorCancelledEvent:
		cancelled := r.registry.Cancel(p.EntityID, CancelEvent)
		r.logger.Info(ctx, "monitor cancellation requested",
			"entity_id", p.EntityID, "reason", p.Reason, "was_active", cancelled)
		ack(nil)
		return nil

	default:
		err := fmt.Errorf("unexpected payload %T for event %s", evt.Payload, evt.Type)
		ack(err)
		return err
	}
}

func (r *Runner) startSession(
	ctx context.Context,
	rs *run,
	req remotetask.RemoteTaskMonitorRequestedEvent,
	ack events.AckFunc,
) error {
	log := r.logger.With("task_id", req.TaskID, "step_id", req.StepID, "entity_id", req.EntityID)

	taskID, err := uuid.Parse(req.TaskID)
	if err != nil {
		err = fmt.Errorf("invalid task id %q: %w", req.TaskID, err)
		ack(err)
		return err
	}
	stepID, err := uuid.Parse(req.StepID)
	if err != nil {
		err = fmt.Errorf("invalid step id %q: %w", req.StepID, err)
		ack(err)
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closing {
		ack(ErrRunnerStopped)
		return ErrRunnerStopped
	}

	sessCtx, release, err := r.registry.Acquire(rs.ctx, req.EntityID)
	if errors.Is(err, ErrSessionActive) {
		log.Warn(ctx, "ignoring monitor request, entity already monitored")
		ack(nil)
		return nil
	}
	if err != nil {
		ack(err)
		return err
	}

	link := trace.LinkFromContext(ctx)
	rs.g.Go(func() error {
		defer release()

		sessCtx, span := r.tracer.Start(sessCtx, "monitoring_runner.session",
			trace.WithLinks(link),
			trace.WithAttributes(
				attribute.String("task_id", req.TaskID),
				attribute.String("step_id", req.StepID),
				attribute.String("entity_id", req.EntityID),
			))
		defer span.End()

		res, err := r.step.Execute(sessCtx, taskID, stepID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "monitoring session failed")
			log.Warn(sessCtx, "monitoring session failed",
				"error", err, "status_unknown", remotetask.IsStatusUnknown(err))
			return nil
		}

		span.SetStatus(codes.Ok, "monitoring session succeeded")
		log.Info(sessCtx, "monitoring session succeeded", "state", res.State, "result_entity_id", res.ResultEntityID)
		return nil
	})

	ack(nil)
	return nil
}

// RunWhileLeader starts coord and runs the Runner only while this replica
// holds leadership. Losing leadership cancels every active session.
func (r *Runner) RunWhileLeader(ctx context.Context, coord cluster.Coordinator) error {
	changes := make(chan bool, 1)
	coord.OnLeadershipChange(func(isLeader bool) {
		// Keep only the latest status.
		for {
			select {
			case changes <- isLeader:
				return
			default:
				select {
				case <-changes:
				default:
				}
			}
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Start(gctx) })
	g.Go(func() error {
		var (
			cancel context.CancelCauseFunc
			done   chan error
		)
		stop := func(reason error) error {
			if cancel == nil {
				return nil
			}
			cancel(reason)
			err := <-done
			cancel, done = nil, nil
			return err
		}

		for {
			select {
			case <-gctx.Done():
				_ = stop(ShutdownEvent)
				return nil

			case err := <-done:
				cancel, done = nil, nil
				if err != nil {
					return fmt.Errorf("monitoring runner: %w", err)
				}

			case isLeader := <-changes:
				if isLeader && cancel == nil {
					var leaderCtx context.Context
					leaderCtx, cancel = context.WithCancelCause(gctx)
					done = make(chan error, 1)
					go func() { done <- r.Run(leaderCtx) }()
					r.logger.Info(gctx, "leadership acquired, monitoring enabled")
				} else if !isLeader {
					if err := stop(LeadershipLostEvent); err != nil {
						r.logger.Warn(gctx, "monitoring runner stopped with error", "error", err)
					}
					r.logger.Info(gctx, "leadership lost, monitoring disabled")
				}
			}
		}
	})

	err := g.Wait()
	_ = coord.Stop()
	return err
}
