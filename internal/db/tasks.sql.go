package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createTask = `-- name: CreateTask :exec
INSERT INTO tasks (id, entity_id, entity_kind)
VALUES ($1, $2, $3)
`

type CreateTaskParams struct {
	ID         pgtype.UUID
	EntityID   string
	EntityKind string
}

func (q *Queries) CreateTask(ctx context.Context, arg CreateTaskParams) error {
	_, err := q.db.Exec(ctx, createTask, arg.ID, arg.EntityID, arg.EntityKind)
	return err
}

const createTaskStep = `-- name: CreateTaskStep :exec
INSERT INTO task_steps (id, task_id, sequence, operation)
VALUES ($1, $2, $3, $4)
`

type CreateTaskStepParams struct {
	ID        pgtype.UUID
	TaskID    pgtype.UUID
	Sequence  int32
	Operation string
}

func (q *Queries) CreateTaskStep(ctx context.Context, arg CreateTaskStepParams) error {
	_, err := q.db.Exec(ctx, createTaskStep, arg.ID, arg.TaskID, arg.Sequence, arg.Operation)
	return err
}

const createTaskStepEntity = `-- name: CreateTaskStepEntity :exec
INSERT INTO task_step_entities (step_id, position, entity_id, entity_kind)
VALUES ($1, $2, $3, $4)
`

type CreateTaskStepEntityParams struct {
	StepID     pgtype.UUID
	Position   int32
	EntityID   string
	EntityKind string
}

func (q *Queries) CreateTaskStepEntity(ctx context.Context, arg CreateTaskStepEntityParams) error {
	_, err := q.db.Exec(ctx, createTaskStepEntity, arg.StepID, arg.Position, arg.EntityID, arg.EntityKind)
	return err
}

const getTask = `-- name: GetTask :one
SELECT id, entity_id, entity_kind, created_at, updated_at
FROM tasks
WHERE id = $1
`

func (q *Queries) GetTask(ctx context.Context, id pgtype.UUID) (Task, error) {
	row := q.db.QueryRow(ctx, getTask, id)
	var i Task
	err := row.Scan(&i.ID, &i.EntityID, &i.EntityKind, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const listTaskSteps = `-- name: ListTaskSteps :many
SELECT id, task_id, sequence, operation
FROM task_steps
WHERE task_id = $1
ORDER BY sequence
`

func (q *Queries) ListTaskSteps(ctx context.Context, taskID pgtype.UUID) ([]TaskStep, error) {
	rows, err := q.db.Query(ctx, listTaskSteps, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TaskStep
	for rows.Next() {
		var i TaskStep
		if err := rows.Scan(&i.ID, &i.TaskID, &i.Sequence, &i.Operation); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listTaskStepEntities = `-- name: ListTaskStepEntities :many
SELECT e.step_id, e.position, e.entity_id, e.entity_kind
FROM task_step_entities e
JOIN task_steps s ON s.id = e.step_id
WHERE s.task_id = $1
ORDER BY e.step_id, e.position
`

func (q *Queries) ListTaskStepEntities(ctx context.Context, taskID pgtype.UUID) ([]TaskStepEntity, error) {
	rows, err := q.db.Query(ctx, listTaskStepEntities, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TaskStepEntity
	for rows.Next() {
		var i TaskStepEntity
		if err := rows.Scan(&i.StepID, &i.Position, &i.EntityID, &i.EntityKind); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listTaskStepResources = `-- name: ListTaskStepResources :many
SELECT r.step_id, r.key, r.value
FROM task_step_resources r
JOIN task_steps s ON s.id = r.step_id
WHERE s.task_id = $1
`

func (q *Queries) ListTaskStepResources(ctx context.Context, taskID pgtype.UUID) ([]TaskStepResource, error) {
	rows, err := q.db.Query(ctx, listTaskStepResources, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TaskStepResource
	for rows.Next() {
		var i TaskStepResource
		if err := rows.Scan(&i.StepID, &i.Key, &i.Value); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const setTaskEntity = `-- name: SetTaskEntity :execrows
UPDATE tasks
SET entity_id = $2, entity_kind = $3, updated_at = NOW()
WHERE id = $1
`

type SetTaskEntityParams struct {
	ID         pgtype.UUID
	EntityID   string
	EntityKind string
}

func (q *Queries) SetTaskEntity(ctx context.Context, arg SetTaskEntityParams) (int64, error) {
	result, err := q.db.Exec(ctx, setTaskEntity, arg.ID, arg.EntityID, arg.EntityKind)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const upsertTaskStepResource = `-- name: UpsertTaskStepResource :execrows
INSERT INTO task_step_resources (step_id, key, value)
SELECT id, $2, $3 FROM task_steps WHERE id = $1
ON CONFLICT (step_id, key) DO UPDATE SET value = EXCLUDED.value
`

type UpsertTaskStepResourceParams struct {
	StepID pgtype.UUID
	Key    string
	Value  string
}

func (q *Queries) UpsertTaskStepResource(ctx context.Context, arg UpsertTaskStepResourceParams) (int64, error) {
	result, err := q.db.Exec(ctx, upsertTaskStepResource, arg.StepID, arg.Key, arg.Value)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
