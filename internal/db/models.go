package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type DeploymentState string

const (
	DeploymentStatePENDING     DeploymentState = "PENDING"
	DeploymentStateCREATING    DeploymentState = "CREATING"
	DeploymentStateREADY       DeploymentState = "READY"
	DeploymentStateDELETING    DeploymentState = "DELETING"
	DeploymentStateNOTDEPLOYED DeploymentState = "NOT_DEPLOYED"
	DeploymentStateERROR       DeploymentState = "ERROR"
)

type Deployment struct {
	ID          string
	State       DeploymentState
	OperationID string
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

type Task struct {
	ID         pgtype.UUID
	EntityID   string
	EntityKind string
	CreatedAt  pgtype.Timestamptz
	UpdatedAt  pgtype.Timestamptz
}

type TaskStep struct {
	ID        pgtype.UUID
	TaskID    pgtype.UUID
	Sequence  int32
	Operation string
}

type TaskStepEntity struct {
	StepID     pgtype.UUID
	Position   int32
	EntityID   string
	EntityKind string
}

type TaskStepResource struct {
	StepID pgtype.UUID
	Key    string
	Value  string
}
