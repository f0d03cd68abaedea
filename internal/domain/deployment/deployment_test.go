package deployment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
)

func TestState_ValidateTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePending, StateCreating, true},
		{StateCreating, StateReady, true},
		{StateReady, StateDeleting, true},
		{StateDeleting, StateNotDeployed, true},
		{StateDeleting, StateError, true},
		{StateError, StateNotDeployed, true},
		{StateNotDeployed, StateNotDeployed, true},
		{StateNotDeployed, StateReady, false},
		{StateDeleting, StateReady, false},
		{StatePending, StateNotDeployed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.validateTransition(tt.to))
		})
	}
}

func TestDeployment_UpdateState(t *testing.T) {
	d := ReconstructDeployment("dep-1", StateDeleting, "/remove/1", time.Now())

	require.NoError(t, d.UpdateState(StateNotDeployed))
	assert.Equal(t, StateNotDeployed, d.State())

	err := d.UpdateState(StateReady)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StateNotDeployed, invalid.From)
	assert.Equal(t, StateNotDeployed, d.State())
}

func TestParseState(t *testing.T) {
	s, err := ParseState("ERROR")
	require.NoError(t, err)
	assert.Equal(t, StateError, s)

	_, err = ParseState("GONE")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDefaultSubstageTable(t *testing.T) {
	r := remotetask.NewTableResolver(DefaultSubstageTable())

	got, err := r.Resolve(remotetask.OperationPerformDeleteDeployment)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	got, err = r.Resolve(remotetask.OperationDeprovisionHosts)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestParseRemoveSubstage(t *testing.T) {
	s, ok := ParseRemoveSubstage("DEPROVISION_HOSTS")
	require.True(t, ok)
	assert.Equal(t, RemoveSubstageDeprovisionHosts, s)
	assert.Equal(t, "DEPROVISION_HOSTS", s.String())

	_, ok = ParseRemoveSubstage("NOPE")
	assert.False(t, ok)
}
