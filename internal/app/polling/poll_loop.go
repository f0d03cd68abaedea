package polling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
	"github.com/ahrav/deploy-armada/pkg/common/timeutil"
)

// QueryFunc performs one status query for the remote task being polled.
type QueryFunc func(ctx context.Context) (remotetask.Observation, error)

// ObserveFunc is invoked with every state the remote task reports, terminal
// states included. It must not block.
type ObserveFunc func(ctx context.Context, state remotetask.State)

// errTimeBudgetExhausted is the cancellation cause of a session context whose
// time budget ran out.
var errTimeBudgetExhausted = errors.New("remote task polling time budget exhausted")

// pollSession holds the counters of a single loop run. It never outlives Run.
type pollSession struct {
	link          remotetask.Link
	startTime     time.Time
	notFoundCount int
	cfg           Config
}

func newPollSession(link remotetask.Link, cfg Config, start time.Time) *pollSession {
	return &pollSession{link: link, startTime: start, cfg: cfg}
}

func (s *pollSession) checkTimeout(now time.Time) error {
	if elapsed := now.Sub(s.startTime); elapsed > s.cfg.Timeout {
		return remotetask.NewTimeoutError(s.link, elapsed, s.cfg.Timeout)
	}
	return nil
}

func (s *pollSession) recordNotFound() error {
	s.notFoundCount++
	if s.notFoundCount > s.cfg.MaxNotFound {
		return remotetask.NewExceededRetryBudgetError(s.link, s.notFoundCount, s.cfg.MaxNotFound)
	}
	return nil
}

func (s *pollSession) recordFound() { s.notFoundCount = 0 }

// PollLoop repeatedly queries a remote task until it reaches a terminal stage,
// enforcing a total time budget and a budget of consecutive not-found responses.
// A PollLoop holds no per-run state and may be shared between sessions.
type PollLoop struct {
	cfg     Config
	clock   timeutil.Provider
	logger  *logger.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// LoopOption configures a PollLoop.
type LoopOption func(*PollLoop)

// WithLoopClock sets the clock used to measure elapsed time.
func WithLoopClock(clock timeutil.Provider) LoopOption {
	return func(l *PollLoop) { l.clock = clock }
}

// WithLoopLogger sets the logger.
func WithLoopLogger(log *logger.Logger) LoopOption {
	return func(l *PollLoop) { l.logger = log }
}

// WithLoopTracer sets the tracer.
func WithLoopTracer(tracer trace.Tracer) LoopOption {
	return func(l *PollLoop) { l.tracer = tracer }
}

// WithLoopMetrics sets the metrics sink.
func WithLoopMetrics(m Metrics) LoopOption {
	return func(l *PollLoop) { l.metrics = m }
}

// NewPollLoop creates a PollLoop. Zero fields of cfg take their defaults.
func NewPollLoop(cfg Config, opts ...LoopOption) *PollLoop {
	l := &PollLoop{
		cfg:     cfg.merge(DefaultConfig()),
		clock:   timeutil.Default(),
		logger:  logger.Noop(),
		tracer:  noop.NewTracerProvider().Tracer("polling"),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "poll_loop")
	return l
}

// Config returns the effective configuration of the loop.
func (l *PollLoop) Config() Config { return l.cfg }

// Run polls until query reports a terminal state and returns that state.
// It fails with *remotetask.TimeoutError when the time budget runs out,
// *remotetask.ExceededRetryBudgetError when too many consecutive polls find
// no record, *remotetask.StatusQueryError when a query fails, and the
// cancellation cause of ctx when ctx is cancelled. No query runs after Run
// returns.
func (l *PollLoop) Run(
	ctx context.Context,
	link remotetask.Link,
	query QueryFunc,
	observe ObserveFunc,
) (remotetask.State, error) {
	sess := newPollSession(link, l.cfg, l.clock.Now())

	// The deadline bounds a single blocked query as well as the sleeps.
	budgetCtx, cancel := context.WithTimeoutCause(ctx, l.cfg.Timeout, errTimeBudgetExhausted)
	defer cancel()

	ctx, span := l.tracer.Start(budgetCtx, "poll_loop.run",
		trace.WithAttributes(
			attribute.String("remote_task.link", link.String()),
			attribute.String("poll.interval", l.cfg.Interval.String()),
			attribute.String("poll.timeout", l.cfg.Timeout.String()),
			attribute.Int("poll.max_not_found", l.cfg.MaxNotFound),
		))
	defer span.End()

	log := l.logger.With("link", link.String())
	polls := 0

	fail := func(err error, msg string) (remotetask.State, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		span.SetAttributes(attribute.Int("poll.count", polls))
		return remotetask.State{}, err
	}

	for {
		if err := sess.checkTimeout(l.clock.Now()); err != nil {
			log.Warn(ctx, "remote task polling timed out", "polls", polls, "elapsed", l.clock.Now().Sub(sess.startTime))
			return fail(err, "timeout")
		}

		polls++
		l.metrics.IncPolls(ctx)
		obs, err := query(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fail(l.interrupted(ctx, sess), "interrupted")
			}
			return fail(remotetask.NewStatusQueryError(link, err), "status query failed")
		}

		switch o := obs.(type) {
		case remotetask.Found:
			sess.recordFound()
			if observe != nil {
				observe(ctx, o.State)
			}
			if o.State.IsTerminal() {
				span.AddEvent("terminal_state_reached", trace.WithAttributes(
					attribute.String("stage", o.State.Stage().String()),
					attribute.Int("poll.count", polls),
				))
				span.SetStatus(codes.Ok, "terminal state reached")
				log.Debug(ctx, "remote task reached terminal stage", "stage", o.State.Stage(), "polls", polls)
				return o.State, nil
			}

		case remotetask.NotFound:
			l.metrics.IncNotFound(ctx)
			if err := sess.recordNotFound(); err != nil {
				log.Warn(ctx, "remote task record never became visible", "not_found", sess.notFoundCount)
				return fail(err, "retry budget exceeded")
			}
			log.Debug(ctx, "remote task not found yet", "not_found", sess.notFoundCount)

		default:
			return fail(remotetask.NewStatusQueryError(link, fmt.Errorf("unexpected observation %T", obs)), "unexpected observation")
		}

		if err := sess.checkTimeout(l.clock.Now()); err != nil {
			return fail(err, "timeout")
		}
		if err := l.wait(ctx); err != nil {
			return fail(l.interrupted(ctx, sess), "interrupted")
		}
	}
}

func (l *PollLoop) wait(ctx context.Context) error {
	timer := time.NewTimer(l.cfg.Interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// interrupted translates the end of ctx into the error Run surfaces.
func (l *PollLoop) interrupted(ctx context.Context, sess *pollSession) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, errTimeBudgetExhausted) {
		return remotetask.NewTimeoutError(sess.link, l.clock.Now().Sub(sess.startTime), sess.cfg.Timeout)
	}
	return cause
}
