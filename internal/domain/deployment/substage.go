package deployment

import "github.com/ahrav/deploy-armada/internal/domain/remotetask"

// RemoveSubstage is a step of the remote remove-deployment workflow. The
// ordinal is the position in that workflow.
type RemoveSubstage int

const (
	RemoveSubstageRemoveFromAPIFE RemoveSubstage = iota
	RemoveSubstageDeprovisionHosts
)

var removeSubstageNames = [...]string{"REMOVE_FROM_API_FE", "DEPROVISION_HOSTS"}

func (s RemoveSubstage) String() string {
	if s < 0 || int(s) >= len(removeSubstageNames) {
		return "UNKNOWN"
	}
	return removeSubstageNames[s]
}

// ParseRemoveSubstage converts a workflow substage name to its ordinal.
func ParseRemoveSubstage(name string) (RemoveSubstage, bool) {
	for i, n := range removeSubstageNames {
		if n == name {
			return RemoveSubstage(i), true
		}
	}
	return 0, false
}

// DefaultSubstageTable maps delete related operations to the remove-deployment
// substage that covers their scope of work.
func DefaultSubstageTable() remotetask.SubstageTable {
	return remotetask.SubstageTable{
		remotetask.OperationPerformDeleteDeployment: int(RemoveSubstageRemoveFromAPIFE),
		remotetask.OperationDeprovisionHosts:        int(RemoveSubstageDeprovisionHosts),
	}
}
