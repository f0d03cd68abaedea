package polling

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ahrav/deploy-armada/internal/domain/events"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
)

// scriptedQuery replays a fixed sequence of observations. Once exhausted it
// keeps returning the last one.
type scriptedQuery struct {
	mu     sync.Mutex
	script []remotetask.Observation
	calls  int
	// onCall runs before each response, e.g. to advance a manual clock.
	onCall func(call int)
	err    error
}

func newScriptedQuery(script ...remotetask.Observation) *scriptedQuery {
	return &scriptedQuery{script: script}
}

func (q *scriptedQuery) QueryStatus(_ context.Context, _ remotetask.Link) (remotetask.Observation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.calls++
	if q.onCall != nil {
		q.onCall(q.calls)
	}
	if q.err != nil {
		return nil, q.err
	}
	idx := q.calls - 1
	if idx >= len(q.script) {
		idx = len(q.script) - 1
	}
	return q.script[idx], nil
}

func (q *scriptedQuery) fn() QueryFunc {
	return func(ctx context.Context) (remotetask.Observation, error) {
		return q.QueryStatus(ctx, "")
	}
}

func (q *scriptedQuery) Calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func repeat(obs remotetask.Observation, n int) []remotetask.Observation {
	out := make([]remotetask.Observation, n)
	for i := range out {
		out[i] = obs
	}
	return out
}

func running() remotetask.Observation { return remotetask.Observed(remotetask.StageRunning) }

type stateChange struct {
	entityID string
	state    remotetask.LifecycleState
}

// recordingUpdater records every SetState call.
type recordingUpdater struct {
	mu      sync.Mutex
	changes []stateChange
	err     error
}

func (u *recordingUpdater) SetState(_ context.Context, entityID string, state remotetask.LifecycleState) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.changes = append(u.changes, stateChange{entityID: entityID, state: state})
	return u.err
}

func (u *recordingUpdater) Changes() []stateChange {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]stateChange(nil), u.changes...)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishDomainEvent(ctx context.Context, evt events.DomainEvent, opts ...events.PublishOption) error {
	args := m.Called(ctx, evt, opts)
	return args.Error(0)
}

func fastConfig() Config {
	return Config{Interval: time.Millisecond, Timeout: time.Second, MaxNotFound: 3}
}
