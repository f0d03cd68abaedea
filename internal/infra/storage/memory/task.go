package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/ahrav/deploy-armada/internal/domain/task"
)

// TaskStore is an in-memory task.Repository.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*task.Task
	// stepOwner maps a step to the task containing it.
	stepOwner map[uuid.UUID]uuid.UUID
}

var _ task.Repository = (*TaskStore)(nil)

// NewTaskStore creates an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks:     make(map[uuid.UUID]*task.Task),
		stepOwner: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *TaskStore) GetTask(_ context.Context, id uuid.UUID) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	return cloneTask(t), nil
}

func (s *TaskStore) CreateTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	s.tasks[t.ID] = cloneTask(t)
	for _, step := range t.Steps {
		s.stepOwner[step.ID] = t.ID
	}
	return nil
}

func (s *TaskStore) SetEntity(_ context.Context, taskID uuid.UUID, entityID, entityKind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrTaskNotFound, taskID)
	}
	t.SetEntity(entityID, entityKind)
	return nil
}

func (s *TaskStore) SetStepResource(_ context.Context, stepID uuid.UUID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	taskID, ok := s.stepOwner[stepID]
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrStepNotFound, stepID)
	}
	step, err := s.tasks[taskID].Step(stepID)
	if err != nil {
		return err
	}
	step.SetResource(key, value)
	return nil
}

func cloneTask(t *task.Task) *task.Task {
	steps := make([]*task.Step, len(t.Steps))
	for i, st := range t.Steps {
		steps[i] = task.ReconstructStep(
			st.ID,
			st.Sequence,
			st.Operation,
			append(st.Entities()[:0:0], st.Entities()...),
			maps.Clone(st.Resources()),
		)
	}
	return &task.Task{ID: t.ID, EntityID: t.EntityID, EntityKind: t.EntityKind, Steps: steps}
}
