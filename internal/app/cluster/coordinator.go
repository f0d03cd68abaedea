// Package cluster defines how controller replicas agree on a single active
// instance.
package cluster

import (
	"context"
	"sync"
	"sync/atomic"
)

// Coordinator manages leader election to ensure only one replica monitors
// remote tasks at a time.
type Coordinator interface {
	// Start initiates coordination and blocks until context cancellation or error.
	Start(ctx context.Context) error
	// Stop gracefully terminates coordination.
	Stop() error
	// OnLeadershipChange registers a callback for leadership status changes.
	OnLeadershipChange(cb func(isLeader bool))
	// IsLeader reports whether this replica currently holds leadership.
	IsLeader() bool
}

// Standalone is a Coordinator for single replica deployments. It becomes
// leader as soon as it starts and steps down when stopped.
type Standalone struct {
	mu     sync.Mutex
	cb     func(isLeader bool)
	leader atomic.Bool
}

var _ Coordinator = (*Standalone)(nil)

// NewStandalone creates a Standalone coordinator.
func NewStandalone() *Standalone { return new(Standalone) }

func (s *Standalone) Start(ctx context.Context) error {
	s.setLeader(true)
	<-ctx.Done()
	s.setLeader(false)
	return nil
}

func (s *Standalone) Stop() error {
	s.setLeader(false)
	return nil
}

func (s *Standalone) OnLeadershipChange(cb func(isLeader bool)) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

func (s *Standalone) IsLeader() bool { return s.leader.Load() }

func (s *Standalone) setLeader(v bool) {
	if s.leader.Swap(v) == v {
		return
	}
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb(v)
	}
}
