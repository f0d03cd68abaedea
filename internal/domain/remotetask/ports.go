package remotetask

import "context"

// LifecycleState is a lifecycle state value of a monitored entity.
type LifecycleState string

// String returns the string representation of the LifecycleState.
func (s LifecycleState) String() string { return string(s) }

// EntityRef is a transient reference to the entity whose lifecycle a remote
// task governs. Storage of the entity belongs to the persistence layer.
type EntityRef struct {
	ID   string
	Kind string
}

// StatusQuery reads the current state of a remote task. Implementations must be
// safe to call repeatedly and must not have side effects.
type StatusQuery interface {
	QueryStatus(ctx context.Context, link Link) (Observation, error)
}

// EntityStateUpdater persists lifecycle transitions of monitored entities.
type EntityStateUpdater interface {
	SetState(ctx context.Context, entityID string, state LifecycleState) error
}

// SubstageResolver translates an operation kind into its target substage ordinal.
type SubstageResolver interface {
	Resolve(kind OperationKind) (int, error)
}

// ResultRecorder records the identifier of an entity produced by a remote task
// onto the caller's broader task context.
type ResultRecorder interface {
	RecordResultEntity(ctx context.Context, entityID string) error
}

// StatusQueryFunc adapts a function to the StatusQuery interface.
type StatusQueryFunc func(ctx context.Context, link Link) (Observation, error)

func (f StatusQueryFunc) QueryStatus(ctx context.Context, link Link) (Observation, error) {
	return f(ctx, link)
}

// EntityStateUpdaterFunc adapts a function to the EntityStateUpdater interface.
type EntityStateUpdaterFunc func(ctx context.Context, entityID string, state LifecycleState) error

func (f EntityStateUpdaterFunc) SetState(ctx context.Context, entityID string, state LifecycleState) error {
	return f(ctx, entityID, state)
}

// ResultRecorderFunc adapts a function to the ResultRecorder interface.
type ResultRecorderFunc func(ctx context.Context, entityID string) error

func (f ResultRecorderFunc) RecordResultEntity(ctx context.Context, entityID string) error {
	return f(ctx, entityID)
}
