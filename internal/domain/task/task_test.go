package task

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
)

func TestStep_TransientEntities(t *testing.T) {
	step := NewStep(0, remotetask.OperationPerformDeleteDeployment,
		remotetask.EntityRef{ID: "dep-1", Kind: "deployment"},
		remotetask.EntityRef{ID: "host-1", Kind: "host"},
	)

	deps := step.TransientEntities("deployment")
	require.Len(t, deps, 1)
	assert.Equal(t, "dep-1", deps[0].ID)
	assert.Empty(t, step.TransientEntities("vm"))
}

func TestStep_Resources(t *testing.T) {
	step := NewStep(0, remotetask.OperationDeprovisionHosts)
	_, ok := step.Resource(RemoteTaskLinkResource)
	assert.False(t, ok)

	step.SetResource(RemoteTaskLinkResource, "/remove/1")
	step.SetResource(RemoteTaskLinkResource, "/remove/2")
	v, ok := step.Resource(RemoteTaskLinkResource)
	require.True(t, ok)
	assert.Equal(t, "/remove/2", v)
}

func TestTask_Step(t *testing.T) {
	step := NewStep(0, remotetask.OperationDeprovisionHosts)
	tsk := NewTask(step)

	got, err := tsk.Step(step.ID)
	require.NoError(t, err)
	assert.Same(t, step, got)

	_, err = tsk.Step(uuid.New())
	assert.ErrorIs(t, err, ErrStepNotFound)
}
