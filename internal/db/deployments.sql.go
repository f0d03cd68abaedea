package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createDeployment = `-- name: CreateDeployment :execrows
INSERT INTO deployments (id, state, operation_id, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING
`

type CreateDeploymentParams struct {
	ID          string
	State       DeploymentState
	OperationID string
	UpdatedAt   pgtype.Timestamptz
}

func (q *Queries) CreateDeployment(ctx context.Context, arg CreateDeploymentParams) (int64, error) {
	result, err := q.db.Exec(ctx, createDeployment, arg.ID, arg.State, arg.OperationID, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getDeployment = `-- name: GetDeployment :one
SELECT id, state, operation_id, created_at, updated_at
FROM deployments
WHERE id = $1
`

func (q *Queries) GetDeployment(ctx context.Context, id string) (Deployment, error) {
	row := q.db.QueryRow(ctx, getDeployment, id)
	var i Deployment
	err := row.Scan(&i.ID, &i.State, &i.OperationID, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const updateDeployment = `-- name: UpdateDeployment :execrows
UPDATE deployments
SET state = $2, operation_id = $3, updated_at = $4
WHERE id = $1
`

type UpdateDeploymentParams struct {
	ID          string
	State       DeploymentState
	OperationID string
	UpdatedAt   pgtype.Timestamptz
}

func (q *Queries) UpdateDeployment(ctx context.Context, arg UpdateDeploymentParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateDeployment, arg.ID, arg.State, arg.OperationID, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
