package monitoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/deploy-armada/internal/app/cluster"
	"github.com/ahrav/deploy-armada/internal/app/polling"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	"github.com/ahrav/deploy-armada/internal/infra/eventbus/memory"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

type execCall struct {
	taskID, stepID uuid.UUID
	cause          error
}

// blockingStep runs until its context is cancelled or release is closed.
type blockingStep struct {
	mu      sync.Mutex
	started map[uuid.UUID]int
	ended   []execCall
	release chan struct{}
}

func newBlockingStep() *blockingStep {
	return &blockingStep{started: make(map[uuid.UUID]int), release: make(chan struct{})}
}

func (s *blockingStep) Execute(ctx context.Context, taskID, stepID uuid.UUID) (*polling.Result, error) {
	s.mu.Lock()
	s.started[taskID]++
	s.mu.Unlock()

	var err error
	select {
	case <-ctx.Done():
		err = context.Cause(ctx)
	case <-s.release:
	}

	s.mu.Lock()
	s.ended = append(s.ended, execCall{taskID: taskID, stepID: stepID, cause: err})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &polling.Result{State: "NOT_DEPLOYED"}, nil
}

func (s *blockingStep) startCount(taskID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started[taskID]
}

func (s *blockingStep) endedCalls() []execCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]execCall(nil), s.ended...)
}

type runnerFixture struct {
	bus      *memory.Broker
	step     *blockingStep
	registry *SessionRegistry
	runner   *Runner
}

func newRunnerFixture() *runnerFixture {
	bus := memory.NewBroker()
	step := newBlockingStep()
	registry := NewSessionRegistry(logger.Noop())
	return &runnerFixture{
		bus:      bus,
		step:     step,
		registry: registry,
		runner:   NewRunner(bus, step, registry, logger.Noop(), noop.NewTracerProvider().Tracer("test")),
	}
}

// request publishes monitor requests until the session for taskID starts.
// Duplicates are dropped by the runner, so retrying is harmless.
func (f *runnerFixture) request(t *testing.T, taskID, stepID uuid.UUID, entityID string) {
	t.Helper()
	evt := remotetask.NewRemoteTaskMonitorRequestedEvent(taskID.String(), stepID.String(), entityID)
	require.Eventually(t, func() bool {
		_ = f.bus.PublishDomainEvent(context.Background(), evt)
		return f.step.startCount(taskID) > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func startRunner(t *testing.T, f *runnerFixture) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestRunnerExecutesRequestedSession(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture()
	cancel, done := startRunner(t, f)

	taskID, stepID := uuid.New(), uuid.New()
	f.request(t, taskID, stepID, "dep-1")
	assert.True(t, f.registry.IsActive("dep-1"))

	close(f.step.release)
	require.Eventually(t, func() bool { return !f.registry.IsActive("dep-1") }, time.Second, 5*time.Millisecond)

	ended := f.step.endedCalls()
	require.Len(t, ended, 1)
	assert.Equal(t, taskID, ended[0].taskID)
	assert.Equal(t, stepID, ended[0].stepID)
	assert.NoError(t, ended[0].cause)

	cancel()
	assert.NoError(t, <-done)
}

func TestRunnerIgnoresDuplicateRequest(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture()
	_, _ = startRunner(t, f)

	taskID := uuid.New()
	f.request(t, taskID, uuid.New(), "dep-1")

	other := uuid.New()
	err := f.bus.PublishDomainEvent(context.Background(),
		remotetask.NewRemoteTaskMonitorRequestedEvent(other.String(), uuid.NewString(), "dep-1"))
	require.NoError(t, err)
	assert.Zero(t, f.step.startCount(other))
	assert.Equal(t, 1, f.registry.Active())
}

func TestRunnerCancelEventAbortsSession(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture()
	_, _ = startRunner(t, f)

	taskID := uuid.New()
	f.request(t, taskID, uuid.New(), "dep-1")

	require.NoError(t, f.bus.PublishDomainEvent(context.Background(),
		remotetask.NewRemoteTaskMonitorCancelledEvent("dep-1", "operator request")))

	require.Eventually(t, func() bool { return len(f.step.endedCalls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, f.step.endedCalls()[0].cause, CancelEvent)
	assert.Eventually(t, func() bool { return !f.registry.IsActive("dep-1") }, time.Second, 5*time.Millisecond)
}

func TestRunnerShutdownCancelsActiveSessions(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture()
	cancel, done := startRunner(t, f)

	f.request(t, uuid.New(), uuid.New(), "dep-1")
	f.request(t, uuid.New(), uuid.New(), "dep-2")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	ended := f.step.endedCalls()
	require.Len(t, ended, 2)
	for _, c := range ended {
		assert.ErrorIs(t, c.cause, ShutdownEvent)
	}
	assert.Zero(t, f.registry.Active())
}

func TestRunnerRejectsMalformedRequest(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture()
	_, _ = startRunner(t, f)

	evt := remotetask.NewRemoteTaskMonitorRequestedEvent("not-a-uuid", uuid.NewString(), "dep-1")
	require.Eventually(t, func() bool {
		return f.bus.PublishDomainEvent(context.Background(), evt) != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, f.registry.IsActive("dep-1"))
}

func TestRunWhileLeaderStandalone(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture()
	coord := cluster.NewStandalone()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.RunWhileLeader(ctx, coord) }()

	f.request(t, uuid.New(), uuid.New(), "dep-1")
	assert.True(t, coord.IsLeader())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	require.Len(t, f.step.endedCalls(), 1)
	assert.False(t, coord.IsLeader())
}

func TestRunWhileLeaderStopsOnLeadershipLoss(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture()
	coord := cluster.NewStandalone()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.runner.RunWhileLeader(ctx, coord) }()

	f.request(t, uuid.New(), uuid.New(), "dep-1")

	require.NoError(t, coord.Stop())
	require.Eventually(t, func() bool { return len(f.step.endedCalls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, f.step.endedCalls()[0].cause, LeadershipLostEvent)
}
