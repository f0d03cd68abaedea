// Package kubernetes elects a single active controller replica using
// Kubernetes lease locks.
package kubernetes

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/ahrav/deploy-armada/internal/app/cluster"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

var _ cluster.Coordinator = (*Coordinator)(nil)

// Coordinator manages leader election among controller replicas. Only the
// leader monitors remote tasks, so no two replicas poll for the same entity.
type Coordinator struct {
	client kubernetes.Interface
	config Config

	leaderElector *leaderelection.LeaderElector
	isLeader      atomic.Bool

	mu                 sync.Mutex
	leadershipChangeCB func(isLeader bool)
	cancel             context.CancelFunc

	logger *logger.Logger
	tracer trace.Tracer
}

// NewCoordinator creates a coordinator using a lease lock named
// cfg.LeaderLockID in cfg.Namespace.
func NewCoordinator(cfg Config, client kubernetes.Interface, logger *logger.Logger, tracer trace.Tracer) (*Coordinator, error) {
	_, span := tracer.Start(context.Background(), "kubernetes_coordinator.new",
		trace.WithAttributes(attribute.String("identity", cfg.Identity)),
	)
	defer span.End()

	if client == nil {
		err := fmt.Errorf("kubernetes client is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if cfg.Namespace == "" || cfg.LeaderLockID == "" || cfg.Identity == "" {
		err := fmt.Errorf("namespace, leader lock id and identity are required")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	cfg = cfg.withDefaults()

	c := &Coordinator{
		client: client,
		config: cfg,
		logger: logger.With(
			"component", "kubernetes_coordinator",
			"namespace", cfg.Namespace,
			"leader_lock_id", cfg.LeaderLockID,
			"identity", cfg.Identity,
		),
		tracer: tracer,
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      cfg.LeaderLockID,
			Namespace: cfg.Namespace,
		},
		Client:     client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{Identity: cfg.Identity},
	}

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   cfg.LeaseDuration,
		RenewDeadline:   cfg.RenewDeadline,
		RetryPeriod:     cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: c.onStartedLeading,
			OnStoppedLeading: c.onStoppedLeading,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create leader elector")
		return nil, fmt.Errorf("creating leader elector: %w", err)
	}
	c.leaderElector = elector
	span.AddEvent("leader_elector_created")

	return c, nil
}

// Start runs leader election and blocks until ctx is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	_, span := c.tracer.Start(ctx, "kubernetes_coordinator.start")
	c.logger.Info(ctx, "Starting leader elector")
	span.AddEvent("leader_elector_started")
	span.End()

	// Run returns once leadership is lost or ctx ends.
	for ctx.Err() == nil {
		c.leaderElector.Run(ctx)
	}
	return nil
}

// Stop releases leadership and ends Start.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	c.logger.Info(context.Background(), "Stopping leader elector")
	if cancel != nil {
		cancel()
	}
	return nil
}

// OnLeadershipChange registers a callback invoked when this replica gains or
// loses leadership.
func (c *Coordinator) OnLeadershipChange(cb func(isLeader bool)) {
	c.mu.Lock()
	c.leadershipChangeCB = cb
	c.mu.Unlock()
}

// IsLeader reports whether this replica currently holds the lease.
func (c *Coordinator) IsLeader() bool { return c.isLeader.Load() }

func (c *Coordinator) notify(isLeader bool) {
	c.isLeader.Store(isLeader)
	c.mu.Lock()
	cb := c.leadershipChangeCB
	c.mu.Unlock()
	if cb != nil {
		cb(isLeader)
	}
}

func (c *Coordinator) onStartedLeading(ctx context.Context) {
	ctx, span := c.tracer.Start(ctx, "kubernetes_coordinator.on_started_leading")
	defer span.End()

	c.logger.Info(ctx, "became leader")
	span.AddEvent("became_leader")
	c.notify(true)
}

func (c *Coordinator) onStoppedLeading() {
	ctx, span := c.tracer.Start(context.Background(), "kubernetes_coordinator.on_stopped_leading")
	defer span.End()

	c.logger.Info(ctx, "lost leadership")
	span.AddEvent("lost_leadership")
	c.notify(false)
}
