// Package task models user visible tasks composed of ordered steps. A step may
// delegate its work to a remote task and carry transient references to the
// entities it operates on.
package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
)

// RemoteTaskLinkResource is the step resource key under which the link of the
// monitored remote task is stored.
const RemoteTaskLinkResource = "remote_task_link"

var (
	// ErrTaskNotFound is returned when a task does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStepNotFound is returned when a task has no step with the given id.
	ErrStepNotFound = errors.New("step not found")
)

// Step is a single unit of work within a task.
type Step struct {
	ID        uuid.UUID
	Sequence  int
	Operation remotetask.OperationKind

	entities  []remotetask.EntityRef
	resources map[string]string
}

// NewStep creates a step for op operating on entities.
func NewStep(sequence int, op remotetask.OperationKind, entities ...remotetask.EntityRef) *Step {
	return &Step{
		ID:        uuid.New(),
		Sequence:  sequence,
		Operation: op,
		entities:  entities,
		resources: make(map[string]string),
	}
}

// ReconstructStep rebuilds a step from persisted values.
func ReconstructStep(
	id uuid.UUID,
	sequence int,
	op remotetask.OperationKind,
	entities []remotetask.EntityRef,
	resources map[string]string,
) *Step {
	if resources == nil {
		resources = make(map[string]string)
	}
	return &Step{ID: id, Sequence: sequence, Operation: op, entities: entities, resources: resources}
}

// TransientEntities returns the entity references of the given kind.
func (s *Step) TransientEntities(kind string) []remotetask.EntityRef {
	var out []remotetask.EntityRef
	for _, e := range s.entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Entities returns all entity references attached to the step.
func (s *Step) Entities() []remotetask.EntityRef { return s.entities }

// SetResource creates or updates a transient resource on the step.
func (s *Step) SetResource(key, value string) { s.resources[key] = value }

// Resource returns a transient resource value.
func (s *Step) Resource(key string) (string, bool) {
	v, ok := s.resources[key]
	return v, ok
}

// Resources returns the step's transient resources.
func (s *Step) Resources() map[string]string { return s.resources }

// Task is a user visible unit of work. EntityID and EntityKind identify the
// entity the task produced or operated on.
type Task struct {
	ID         uuid.UUID
	EntityID   string
	EntityKind string
	Steps      []*Step
}

// NewTask creates a task from steps.
func NewTask(steps ...*Step) *Task {
	return &Task{ID: uuid.New(), Steps: steps}
}

// Step returns the step with the given id.
func (t *Task) Step(id uuid.UUID) (*Step, error) {
	for _, s := range t.Steps {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("task %s: %w: %s", t.ID, ErrStepNotFound, id)
}

// SetEntity records the entity the task produced.
func (t *Task) SetEntity(id, kind string) {
	t.EntityID = id
	t.EntityKind = kind
}

// Repository persists tasks and their steps.
type Repository interface {
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)
	CreateTask(ctx context.Context, t *Task) error
	SetEntity(ctx context.Context, taskID uuid.UUID, entityID, entityKind string) error
	SetStepResource(ctx context.Context, stepID uuid.UUID, key, value string) error
}
