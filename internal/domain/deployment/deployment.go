// Package deployment models fleet deployments whose lifecycle is driven by
// remote workflow tasks.
package deployment

import (
	"context"
	"errors"
	"time"

	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
)

// Kind is the entity kind recorded on tasks that reference a deployment.
const Kind = "deployment"

// ErrDeploymentNotFound is returned when a deployment does not exist.
var ErrDeploymentNotFound = errors.New("deployment not found")

// Deployment is a fleet deployment. OperationID holds the link of the remote
// task currently operating on it, if any.
type Deployment struct {
	id          string
	state       State
	operationID remotetask.Link
	updatedAt   time.Time
}

// NewDeployment creates a deployment in the PENDING state.
func NewDeployment(id string) *Deployment {
	return &Deployment{id: id, state: StatePending, updatedAt: time.Now()}
}

// ReconstructDeployment rebuilds a deployment from persisted values.
func ReconstructDeployment(id string, state State, operationID remotetask.Link, updatedAt time.Time) *Deployment {
	return &Deployment{id: id, state: state, operationID: operationID, updatedAt: updatedAt}
}

func (d *Deployment) ID() string                   { return d.id }
func (d *Deployment) State() State                 { return d.state }
func (d *Deployment) OperationID() remotetask.Link { return d.operationID }
func (d *Deployment) UpdatedAt() time.Time         { return d.updatedAt }

// Ref returns a transient reference to the deployment.
func (d *Deployment) Ref() *remotetask.EntityRef {
	return &remotetask.EntityRef{ID: d.id, Kind: Kind}
}

// SetOperation records the remote task operating on the deployment.
func (d *Deployment) SetOperation(link remotetask.Link) {
	d.operationID = link
	d.updatedAt = time.Now()
}

// UpdateState transitions the deployment to target.
func (d *Deployment) UpdateState(target State) error {
	if !d.state.validateTransition(target) {
		return &InvalidTransitionError{DeploymentID: d.id, From: d.state, To: target}
	}
	d.state = target
	d.updatedAt = time.Now()
	return nil
}

// Repository persists deployments.
type Repository interface {
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	CreateDeployment(ctx context.Context, d *Deployment) error
	// UpdateState persists the current state of d.
	UpdateState(ctx context.Context, d *Deployment) error
}
