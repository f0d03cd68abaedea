package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/deploy-armada/internal/db"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	"github.com/ahrav/deploy-armada/internal/domain/task"
	"github.com/ahrav/deploy-armada/internal/infra/storage"
)

var _ task.Repository = (*taskStore)(nil)

// taskStore implements task.Repository using PostgreSQL.
type taskStore struct {
	pool   *pgxpool.Pool
	q      *db.Queries
	tracer trace.Tracer
}

// NewTaskStore creates a PostgreSQL-backed task repository with tracing.
func NewTaskStore(pool *pgxpool.Pool, tracer trace.Tracer) *taskStore {
	return &taskStore{pool: pool, q: db.New(pool), tracer: tracer}
}

func pgUUID(id uuid.UUID) pgtype.UUID { return pgtype.UUID{Bytes: id, Valid: true} }

// CreateTask persists a task with its steps, entity references and resources
// in one transaction.
func (s *taskStore) CreateTask(ctx context.Context, t *task.Task) error {
	attrs := dbAttrs(attribute.String("task_id", t.ID.String()), attribute.Int("step_count", len(t.Steps)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_task", attrs, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			q := s.q.WithTx(tx)

			if err := q.CreateTask(ctx, db.CreateTaskParams{
				ID:         pgUUID(t.ID),
				EntityID:   t.EntityID,
				EntityKind: t.EntityKind,
			}); err != nil {
				return fmt.Errorf("failed to create task: %w", err)
			}

			for _, step := range t.Steps {
				if err := q.CreateTaskStep(ctx, db.CreateTaskStepParams{
					ID:        pgUUID(step.ID),
					TaskID:    pgUUID(t.ID),
					Sequence:  int32(step.Sequence),
					Operation: string(step.Operation),
				}); err != nil {
					return fmt.Errorf("failed to create step %s: %w", step.ID, err)
				}

				for i, e := range step.Entities() {
					if err := q.CreateTaskStepEntity(ctx, db.CreateTaskStepEntityParams{
						StepID:     pgUUID(step.ID),
						Position:   int32(i),
						EntityID:   e.ID,
						EntityKind: e.Kind,
					}); err != nil {
						return fmt.Errorf("failed to attach entity to step %s: %w", step.ID, err)
					}
				}

				for k, v := range step.Resources() {
					if _, err := q.UpsertTaskStepResource(ctx, db.UpsertTaskStepResourceParams{
						StepID: pgUUID(step.ID),
						Key:    k,
						Value:  v,
					}); err != nil {
						return fmt.Errorf("failed to store resource on step %s: %w", step.ID, err)
					}
				}
			}
			return nil
		})
	})
}

// GetTask loads a task and all of its steps.
func (s *taskStore) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	var out *task.Task
	attrs := dbAttrs(attribute.String("task_id", id.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_task", attrs, func(ctx context.Context) error {
		row, err := s.q.GetTask(ctx, pgUUID(id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
			}
			return fmt.Errorf("failed to get task: %w", err)
		}

		stepRows, err := s.q.ListTaskSteps(ctx, row.ID)
		if err != nil {
			return fmt.Errorf("failed to list steps: %w", err)
		}
		entityRows, err := s.q.ListTaskStepEntities(ctx, row.ID)
		if err != nil {
			return fmt.Errorf("failed to list step entities: %w", err)
		}
		resourceRows, err := s.q.ListTaskStepResources(ctx, row.ID)
		if err != nil {
			return fmt.Errorf("failed to list step resources: %w", err)
		}

		entities := make(map[uuid.UUID][]remotetask.EntityRef)
		for _, e := range entityRows {
			stepID := uuid.UUID(e.StepID.Bytes)
			entities[stepID] = append(entities[stepID], remotetask.EntityRef{ID: e.EntityID, Kind: e.EntityKind})
		}
		resources := make(map[uuid.UUID]map[string]string)
		for _, r := range resourceRows {
			stepID := uuid.UUID(r.StepID.Bytes)
			if resources[stepID] == nil {
				resources[stepID] = make(map[string]string)
			}
			resources[stepID][r.Key] = r.Value
		}

		steps := make([]*task.Step, 0, len(stepRows))
		for _, sr := range stepRows {
			stepID := uuid.UUID(sr.ID.Bytes)
			steps = append(steps, task.ReconstructStep(
				stepID,
				int(sr.Sequence),
				remotetask.OperationKind(sr.Operation),
				entities[stepID],
				resources[stepID],
			))
		}

		out = &task.Task{
			ID:         uuid.UUID(row.ID.Bytes),
			EntityID:   row.EntityID,
			EntityKind: row.EntityKind,
			Steps:      steps,
		}
		return nil
	})
	return out, err
}

// SetEntity records the entity produced by the task.
func (s *taskStore) SetEntity(ctx context.Context, taskID uuid.UUID, entityID, entityKind string) error {
	attrs := dbAttrs(
		attribute.String("task_id", taskID.String()),
		attribute.String("entity_id", entityID),
		attribute.String("entity_kind", entityKind),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.set_task_entity", attrs, func(ctx context.Context) error {
		rows, err := s.q.SetTaskEntity(ctx, db.SetTaskEntityParams{
			ID:         pgUUID(taskID),
			EntityID:   entityID,
			EntityKind: entityKind,
		})
		if err != nil {
			return fmt.Errorf("failed to set task entity: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", task.ErrTaskNotFound, taskID)
		}
		return nil
	})
}

// SetStepResource creates or replaces a transient resource on a step.
func (s *taskStore) SetStepResource(ctx context.Context, stepID uuid.UUID, key, value string) error {
	attrs := dbAttrs(attribute.String("step_id", stepID.String()), attribute.String("key", key))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.set_step_resource", attrs, func(ctx context.Context) error {
		rows, err := s.q.UpsertTaskStepResource(ctx, db.UpsertTaskStepResourceParams{
			StepID: pgUUID(stepID),
			Key:    key,
			Value:  value,
		})
		if err != nil {
			return fmt.Errorf("failed to set step resource: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", task.ErrStepNotFound, stepID)
		}
		return nil
	})
}
