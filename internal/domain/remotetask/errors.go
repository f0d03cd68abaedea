package remotetask

import (
	"errors"
	"fmt"
	"time"
)

// InvalidSessionStartError is returned when monitoring is started without a
// remote task link or without an entity reference.
type InvalidSessionStartError struct {
	Reason string
}

// NewInvalidSessionStartError creates a new InvalidSessionStartError.
func NewInvalidSessionStartError(reason string) *InvalidSessionStartError {
	return &InvalidSessionStartError{Reason: reason}
}

func (e *InvalidSessionStartError) Error() string {
	return "invalid monitoring session start: " + e.Reason
}

// UnsupportedOperationKindError is returned when no substage mapping exists for
// an operation kind.
type UnsupportedOperationKindError struct {
	Kind OperationKind
}

// NewUnsupportedOperationKindError creates a new UnsupportedOperationKindError.
func NewUnsupportedOperationKindError(kind OperationKind) *UnsupportedOperationKindError {
	return &UnsupportedOperationKindError{Kind: kind}
}

func (e *UnsupportedOperationKindError) Error() string {
	return fmt.Sprintf("unsupported operation kind %q", e.Kind)
}

// ExceededRetryBudgetError is returned when the remote task record stayed
// invisible for more consecutive polls than allowed.
type ExceededRetryBudgetError struct {
	Link          Link
	NotFoundCount int
	MaxNotFound   int
}

// NewExceededRetryBudgetError creates a new ExceededRetryBudgetError.
func NewExceededRetryBudgetError(link Link, count, maxNotFound int) *ExceededRetryBudgetError {
	return &ExceededRetryBudgetError{Link: link, NotFoundCount: count, MaxNotFound: maxNotFound}
}

func (e *ExceededRetryBudgetError) Error() string {
	return fmt.Sprintf("remote task %s not found after %d consecutive polls (max %d)", e.Link, e.NotFoundCount, e.MaxNotFound)
}

// TimeoutError is returned when a remote task did not reach a terminal stage
// within the session's time budget.
type TimeoutError struct {
	Link    Link
	Elapsed time.Duration
	Budget  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(link Link, elapsed, budget time.Duration) *TimeoutError {
	return &TimeoutError{Link: link, Elapsed: elapsed, Budget: budget}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for remote task %s after %s (budget %s)", e.Link, e.Elapsed, e.Budget)
}

// RemoteTaskFailedError is returned when the remote task reported failure or
// cancellation. EntityID is empty when no entity was attached to the session.
type RemoteTaskFailedError struct {
	EntityID string
	Stage    Stage
	Message  string
}

// NewRemoteTaskFailedError creates a new RemoteTaskFailedError.
func NewRemoteTaskFailedError(entityID string, stage Stage, message string) *RemoteTaskFailedError {
	return &RemoteTaskFailedError{EntityID: entityID, Stage: stage, Message: message}
}

// Error returns the remote failure message as reported by the workflow engine.
func (e *RemoteTaskFailedError) Error() string { return e.Message }

// PersistenceError wraps a failure to persist an entity transition or a task
// result. It is never retried here.
type PersistenceError struct {
	EntityID string
	Op       string
	Err      error
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(entityID, op string, err error) *PersistenceError {
	return &PersistenceError{EntityID: entityID, Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure (%s) for entity %s: %v", e.Op, e.EntityID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// StatusQueryError wraps a non transient failure of the status query itself.
type StatusQueryError struct {
	Link Link
	Err  error
}

// NewStatusQueryError creates a new StatusQueryError.
func NewStatusQueryError(link Link, err error) *StatusQueryError {
	return &StatusQueryError{Link: link, Err: err}
}

func (e *StatusQueryError) Error() string {
	return fmt.Sprintf("querying status of remote task %s: %v", e.Link, e.Err)
}

func (e *StatusQueryError) Unwrap() error { return e.Err }

// SessionStateError is returned when an operation is attempted on a session in
// the wrong state, e.g. starting a session that already ran.
type SessionStateError struct {
	Current string
	Op      string
}

// NewSessionStateError creates a new SessionStateError.
func NewSessionStateError(current, op string) *SessionStateError {
	return &SessionStateError{Current: current, Op: op}
}

func (e *SessionStateError) Error() string {
	return fmt.Sprintf("cannot %s monitoring session in state %s", e.Op, e.Current)
}

// IsStatusUnknown reports whether err leaves the remote outcome unknown: the
// session gave up before the remote task reached a terminal stage.
func IsStatusUnknown(err error) bool {
	var timeout *TimeoutError
	var budget *ExceededRetryBudgetError
	return errors.As(err, &timeout) || errors.As(err, &budget)
}
