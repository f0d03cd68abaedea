package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandalone_LeadershipFollowsLifecycle(t *testing.T) {
	s := NewStandalone()

	var (
		mu      sync.Mutex
		changes []bool
	)
	s.OnLeadershipChange(func(isLeader bool) {
		mu.Lock()
		changes = append(changes, isLeader)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, s.IsLeader, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, s.IsLeader())
	require.NoError(t, s.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, changes)
}
