// Package monitoring runs remote task monitoring sessions in response to
// monitor requests, keeping at most one active session per entity.
package monitoring

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

// terminationReason represents the reason a session was stopped.
// It implements the error interface to allow it to be used as a cancellation cause.
type terminationReason string

func (r terminationReason) Error() string { return string(r) }

const (
	// CancelEvent indicates a session was cancelled on request.
	CancelEvent = terminationReason("cancel")
	// LeadershipLostEvent indicates this replica stopped being leader.
	LeadershipLostEvent = terminationReason("leadership lost")
	// ShutdownEvent indicates the process is shutting down.
	ShutdownEvent = terminationReason("shutdown")
)

// ErrSessionActive is returned when a session is requested for an entity that
// is already being monitored.
var ErrSessionActive = errors.New("monitoring session already active for entity")

type sessionEntry struct {
	token  uint64
	cancel context.CancelCauseFunc
}

// SessionRegistry tracks the cancellation function of every active session,
// keyed by entity id.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]sessionEntry
	next     uint64

	logger *logger.Logger
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry(log *logger.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]sessionEntry),
		logger:   log.With("component", "session_registry"),
	}
}

// Acquire reserves entityID for a new session. The returned context is
// cancelled by Cancel or CancelAll; release must be called when the session
// ends and is safe to call more than once.
func (r *SessionRegistry) Acquire(ctx context.Context, entityID string) (context.Context, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[entityID]; exists {
		return nil, nil, ErrSessionActive
	}

	r.next++
	token := r.next
	sessCtx, cancel := context.WithCancelCause(ctx)
	r.sessions[entityID] = sessionEntry{token: token, cancel: cancel}

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			if e, ok := r.sessions[entityID]; ok && e.token == token {
				delete(r.sessions, entityID)
			}
			r.mu.Unlock()
			cancel(nil)
		})
	}
	return sessCtx, release, nil
}

// Cancel aborts the active session for entityID. It reports whether a session
// was active.
func (r *SessionRegistry) Cancel(entityID string, reason error) bool {
	r.mu.Lock()
	e, ok := r.sessions[entityID]
	if ok {
		delete(r.sessions, entityID)
	}
	r.mu.Unlock()

	if ok {
		e.cancel(reason)
	}
	return ok
}

// CancelAll aborts every active session and returns how many were cancelled.
func (r *SessionRegistry) CancelAll(reason error) int {
	r.mu.Lock()
	entries := make([]sessionEntry, 0, len(r.sessions))
	for id, e := range r.sessions {
		entries = append(entries, e)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel(reason)
	}
	if len(entries) > 0 {
		r.logger.Info(context.Background(), "cancelled active sessions", "count", len(entries), "reason", reason)
	}
	return len(entries)
}

// Active returns the number of active sessions.
func (r *SessionRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IsActive reports whether entityID has an active session.
func (r *SessionRegistry) IsActive(entityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[entityID]
	return ok
}
