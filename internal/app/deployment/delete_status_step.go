// Package deployment implements task steps that operate on deployments.
package deployment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/deploy-armada/internal/app/polling"
	"github.com/ahrav/deploy-armada/internal/domain/deployment"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
	"github.com/ahrav/deploy-armada/internal/domain/task"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

// DeleteStatusStep monitors the remote workflow removing a deployment and moves
// the deployment to NOT_DEPLOYED or ERROR once the workflow ends.
type DeleteStatusStep struct {
	tasks       task.Repository
	deployments deployment.Repository
	ctrl        *polling.Controller

	// cfg overrides the controller configuration per session; zero fields
	// keep the defaults.
	cfg polling.Config

	logger *logger.Logger
	tracer trace.Tracer
}

// StepOption configures a DeleteStatusStep.
type StepOption func(*stepOptions)

type stepOptions struct {
	cfg      polling.Config
	logger   *logger.Logger
	tracer   trace.Tracer
	ctrlOpts []polling.Option
}

// WithPollingConfig overrides the step defaults (10s interval, 2h timeout,
// 100 consecutive not-found polls).
func WithPollingConfig(cfg polling.Config) StepOption {
	return func(o *stepOptions) { o.cfg = cfg }
}

// WithStepLogger sets the logger for the step and its controller.
func WithStepLogger(log *logger.Logger) StepOption {
	return func(o *stepOptions) { o.logger = log }
}

// WithStepTracer sets the tracer for the step and its controller.
func WithStepTracer(tracer trace.Tracer) StepOption {
	return func(o *stepOptions) { o.tracer = tracer }
}

// WithControllerOptions passes options through to the polling controller.
func WithControllerOptions(opts ...polling.Option) StepOption {
	return func(o *stepOptions) { o.ctrlOpts = append(o.ctrlOpts, opts...) }
}

// NewDeleteStatusStep creates a DeleteStatusStep. table maps operation kinds
// to remove-deployment substages; deployment.DefaultSubstageTable is the usual
// choice.
func NewDeleteStatusStep(
	tasks task.Repository,
	deployments deployment.Repository,
	query remotetask.StatusQuery,
	table remotetask.SubstageTable,
	opts ...StepOption,
) *DeleteStatusStep {
	o := stepOptions{
		cfg:    polling.DefaultConfig(),
		logger: logger.Noop(),
		tracer: noop.NewTracerProvider().Tracer("deployment"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctrlOpts := append([]polling.Option{
		polling.WithLogger(o.logger),
		polling.WithTracer(o.tracer),
	}, o.ctrlOpts...)

	return &DeleteStatusStep{
		tasks:       tasks,
		deployments: deployments,
		ctrl: polling.NewController(
			query,
			NewStateUpdater(deployments),
			remotetask.NewTableResolver(table),
			ctrlOpts...,
		),
		cfg:    o.cfg,
		logger: o.logger.With("component", "deployment_delete_status_step"),
		tracer: o.tracer,
	}
}

// Execute monitors the delete of the single deployment referenced by the step.
// The deployment's operation id is stored on the step as its remote task link.
func (s *DeleteStatusStep) Execute(ctx context.Context, taskID, stepID uuid.UUID) (*polling.Result, error) {
	ctx, span := s.tracer.Start(ctx, "deployment_delete_status_step.execute",
		trace.WithAttributes(
			attribute.String("task_id", taskID.String()),
			attribute.String("step_id", stepID.String()),
		))
	defer span.End()

	req, err := s.prepare(ctx, taskID, stepID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to prepare monitoring request")
		return nil, err
	}
	span.AddEvent("monitoring_request_prepared", trace.WithAttributes(
		attribute.String("deployment_id", req.Entity.ID),
		attribute.String("remote_task.link", req.Link.String()),
	))

	res, err := s.ctrl.Monitor(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "deployment delete did not complete")
		s.logger.Error(ctx, "deployment delete did not complete",
			"task_id", taskID, "deployment_id", req.Entity.ID, "error", err,
			"status_unknown", remotetask.IsStatusUnknown(err))
		return nil, err
	}

	span.SetStatus(codes.Ok, "deployment deleted")
	return res, nil
}

func (s *DeleteStatusStep) prepare(ctx context.Context, taskID, stepID uuid.UUID) (polling.MonitorRequest, error) {
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return polling.MonitorRequest{}, fmt.Errorf("loading task %s: %w", taskID, err)
	}
	step, err := t.Step(stepID)
	if err != nil {
		return polling.MonitorRequest{}, err
	}

	refs := step.TransientEntities(deployment.Kind)
	if len(refs) != 1 {
		return polling.MonitorRequest{}, remotetask.NewInvalidSessionStartError(
			fmt.Sprintf("step %s must reference exactly one deployment, got %d", stepID, len(refs)))
	}

	d, err := s.deployments.GetDeployment(ctx, refs[0].ID)
	if err != nil {
		return polling.MonitorRequest{}, fmt.Errorf("loading deployment %s: %w", refs[0].ID, err)
	}

	link := d.OperationID()
	if link.IsZero() {
		return polling.MonitorRequest{}, remotetask.NewInvalidSessionStartError(
			fmt.Sprintf("deployment %s has no remote operation", d.ID()))
	}

	step.SetResource(task.RemoteTaskLinkResource, link.String())
	if err := s.tasks.SetStepResource(ctx, stepID, task.RemoteTaskLinkResource, link.String()); err != nil {
		return polling.MonitorRequest{}, fmt.Errorf("storing remote task link on step %s: %w", stepID, err)
	}

	cfg := s.cfg
	return polling.MonitorRequest{
		Link:   link,
		Entity: d.Ref(),
		Kind:   step.Operation,
		Transitions: polling.Transitions{
			Success: deployment.StateNotDeployed.Lifecycle(),
			Failure: deployment.StateError.Lifecycle(),
		},
		TaskContext: taskResultRecorder{tasks: s.tasks, task: t},
		Config:      &cfg,
	}, nil
}
