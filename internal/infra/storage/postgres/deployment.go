// Package postgres implements the deployment and task repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/deploy-armada/internal/db"
	"github.com/ahrav/deploy-armada/internal/domain/deployment"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	"github.com/ahrav/deploy-armada/internal/infra/storage"
)

// defaultDBAttributes defines standard OpenTelemetry attributes for PostgreSQL operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

func dbAttrs(extra ...attribute.KeyValue) []attribute.KeyValue {
	return append(append(make([]attribute.KeyValue, 0, len(defaultDBAttributes)+len(extra)), defaultDBAttributes...), extra...)
}

var _ deployment.Repository = (*deploymentStore)(nil)

// deploymentStore implements deployment.Repository using PostgreSQL.
type deploymentStore struct {
	q      *db.Queries
	tracer trace.Tracer
}

// NewDeploymentStore creates a PostgreSQL-backed deployment repository with tracing.
func NewDeploymentStore(pool *pgxpool.Pool, tracer trace.Tracer) *deploymentStore {
	return &deploymentStore{q: db.New(pool), tracer: tracer}
}

// GetDeployment loads a deployment by id.
func (s *deploymentStore) GetDeployment(ctx context.Context, id string) (*deployment.Deployment, error) {
	var d *deployment.Deployment
	attrs := dbAttrs(attribute.String("deployment_id", id))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_deployment", attrs, func(ctx context.Context) error {
		row, err := s.q.GetDeployment(ctx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", deployment.ErrDeploymentNotFound, id)
			}
			return fmt.Errorf("failed to get deployment: %w", err)
		}

		state, err := deployment.ParseState(string(row.State))
		if err != nil {
			return err
		}
		d = deployment.ReconstructDeployment(row.ID, state, remotetask.Link(row.OperationID), row.UpdatedAt.Time)
		return nil
	})
	return d, err
}

// CreateDeployment persists a new deployment.
func (s *deploymentStore) CreateDeployment(ctx context.Context, d *deployment.Deployment) error {
	attrs := dbAttrs(attribute.String("deployment_id", d.ID()), attribute.String("state", string(d.State())))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_deployment", attrs, func(ctx context.Context) error {
		rows, err := s.q.CreateDeployment(ctx, db.CreateDeploymentParams{
			ID:          d.ID(),
			State:       db.DeploymentState(d.State()),
			OperationID: string(d.OperationID()),
			UpdatedAt:   pgtype.Timestamptz{Time: d.UpdatedAt(), Valid: true},
		})
		if err != nil {
			return fmt.Errorf("failed to create deployment: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("deployment %s already exists", d.ID())
		}
		return nil
	})
}

// UpdateState persists the state and operation of d.
func (s *deploymentStore) UpdateState(ctx context.Context, d *deployment.Deployment) error {
	attrs := dbAttrs(attribute.String("deployment_id", d.ID()), attribute.String("state", string(d.State())))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_deployment_state", attrs, func(ctx context.Context) error {
		rows, err := s.q.UpdateDeployment(ctx, db.UpdateDeploymentParams{
			ID:          d.ID(),
			State:       db.DeploymentState(d.State()),
			OperationID: string(d.OperationID()),
			UpdatedAt:   pgtype.Timestamptz{Time: d.UpdatedAt(), Valid: true},
		})
		if err != nil {
			return fmt.Errorf("failed to update deployment state: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", deployment.ErrDeploymentNotFound, d.ID())
		}
		return nil
	})
}
