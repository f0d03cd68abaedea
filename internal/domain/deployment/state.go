package deployment

import (
	"errors"
	"fmt"

	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
)

// State is the lifecycle state of a deployment.
type State string

// ErrInvalidState is returned when a string does not name a deployment state.
var ErrInvalidState = errors.New("invalid deployment state")

const (
	// StatePending indicates the deployment is recorded but not yet being created.
	StatePending State = "PENDING"

	// StateCreating indicates hosts are being provisioned for the deployment.
	StateCreating State = "CREATING"

	// StateReady indicates the deployment is fully provisioned.
	StateReady State = "READY"

	// StateDeleting indicates a delete operation is in flight.
	StateDeleting State = "DELETING"

	// StateNotDeployed indicates the deployment was removed.
	StateNotDeployed State = "NOT_DEPLOYED"

	// StateError indicates the last operation on the deployment failed.
	StateError State = "ERROR"
)

// String returns the string representation of the State.
func (s State) String() string { return string(s) }

// Lifecycle returns s as a generic lifecycle state.
func (s State) Lifecycle() remotetask.LifecycleState { return remotetask.LifecycleState(s) }

// ParseState converts a string to a State.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StatePending, StateCreating, StateReady, StateDeleting, StateNotDeployed, StateError:
		return State(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
}

// validateTransition checks if a state transition is valid.
// ERROR and NOT_DEPLOYED may be re-entered so that monitoring a delete can be
// retried after an ambiguous outcome.
func (s State) validateTransition(target State) bool {
	if s == target {
		return true
	}
	switch s {
	case StatePending:
		return target == StateCreating || target == StateError || target == StateDeleting
	case StateCreating:
		return target == StateReady || target == StateError || target == StateDeleting
	case StateReady:
		return target == StateDeleting || target == StateError || target == StateNotDeployed
	case StateDeleting:
		return target == StateNotDeployed || target == StateError
	case StateError:
		return target == StateDeleting || target == StateNotDeployed || target == StateCreating
	case StateNotDeployed:
		return target == StatePending || target == StateCreating
	default:
		return false
	}
}

// InvalidTransitionError is returned when a deployment cannot move between two states.
type InvalidTransitionError struct {
	DeploymentID string
	From, To     State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("deployment %s: invalid state transition from %s to %s", e.DeploymentID, e.From, e.To)
}
