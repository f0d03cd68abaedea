package remotetask

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

// OperationKind enumerates the category of remote operation being monitored.
// It only selects a substage mapping and never affects polling mechanics.
type OperationKind string

const (
	OperationPerformDeleteDeployment OperationKind = "PERFORM_DELETE_DEPLOYMENT"
	OperationDeprovisionHosts        OperationKind = "DEPROVISION_HOSTS"
)

// String returns the string representation of the OperationKind.
func (k OperationKind) String() string { return string(k) }

// SubstageTable maps an operation kind to the substage ordinal representing
// that operation's scope of work within the remote workflow.
type SubstageTable map[OperationKind]int

// TableResolver is a SubstageResolver backed by a static table.
type TableResolver struct {
	table SubstageTable
}

var _ SubstageResolver = (*TableResolver)(nil)

// NewTableResolver creates a resolver over a copy of table.
func NewTableResolver(table SubstageTable) *TableResolver {
	return &TableResolver{table: maps.Clone(table)}
}

// Resolve returns the target substage ordinal for kind.
func (r *TableResolver) Resolve(kind OperationKind) (int, error) {
	ordinal, ok := r.table[kind]
	if !ok {
		return 0, NewUnsupportedOperationKindError(kind)
	}
	return ordinal, nil
}

// Kinds returns the operation kinds the resolver knows about.
func (r *TableResolver) Kinds() []OperationKind {
	kinds := make([]OperationKind, 0, len(r.table))
	for k := range r.table {
		kinds = append(kinds, k)
	}
	return kinds
}

// ParseSubstageTable builds a SubstageTable from plain string keys, rejecting
// empty keys and negative ordinals.
func ParseSubstageTable(raw map[string]int) (SubstageTable, error) {
	table := make(SubstageTable, len(raw))
	for k, v := range raw {
		if strings.TrimSpace(k) == "" {
			return nil, errors.New("operation kind must not be empty")
		}
		if v < 0 {
			return nil, fmt.Errorf("operation %s: substage ordinal must be non-negative, got %d", k, v)
		}
		table[OperationKind(k)] = v
	}
	return table, nil
}
