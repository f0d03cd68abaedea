package deployment

import (
	"context"
	"fmt"

	"github.com/ahrav/deploy-armada/internal/domain/deployment"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	"github.com/ahrav/deploy-armada/internal/domain/task"
)

// StateUpdater applies lifecycle transitions to deployments.
type StateUpdater struct {
	repo deployment.Repository
}

var _ remotetask.EntityStateUpdater = (*StateUpdater)(nil)

// NewStateUpdater creates a StateUpdater backed by repo.
func NewStateUpdater(repo deployment.Repository) *StateUpdater {
	return &StateUpdater{repo: repo}
}

// SetState loads the deployment, validates the transition and persists it.
func (u *StateUpdater) SetState(ctx context.Context, entityID string, state remotetask.LifecycleState) error {
	target, err := deployment.ParseState(state.String())
	if err != nil {
		return err
	}

	d, err := u.repo.GetDeployment(ctx, entityID)
	if err != nil {
		return fmt.Errorf("loading deployment %s: %w", entityID, err)
	}
	if err := d.UpdateState(target); err != nil {
		return err
	}
	if err := u.repo.UpdateState(ctx, d); err != nil {
		return fmt.Errorf("persisting deployment %s state %s: %w", entityID, target, err)
	}
	return nil
}

// taskResultRecorder records a produced deployment on the owning task.
type taskResultRecorder struct {
	tasks task.Repository
	task  *task.Task
}

func (r taskResultRecorder) RecordResultEntity(ctx context.Context, entityID string) error {
	if err := r.tasks.SetEntity(ctx, r.task.ID, entityID, deployment.Kind); err != nil {
		return fmt.Errorf("recording deployment %s on task %s: %w", entityID, r.task.ID, err)
	}
	r.task.SetEntity(entityID, deployment.Kind)
	return nil
}
