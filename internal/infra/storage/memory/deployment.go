// Package memory provides thread-safe in-memory repositories for development,
// standalone runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahrav/deploy-armada/internal/domain/deployment"
)

// DeploymentStore is an in-memory deployment.Repository.
type DeploymentStore struct {
	mu          sync.RWMutex
	deployments map[string]*deployment.Deployment
}

var _ deployment.Repository = (*DeploymentStore)(nil)

// NewDeploymentStore creates an empty store.
func NewDeploymentStore() *DeploymentStore {
	return &DeploymentStore{deployments: make(map[string]*deployment.Deployment)}
}

func (s *DeploymentStore) GetDeployment(_ context.Context, id string) (*deployment.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deployments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", deployment.ErrDeploymentNotFound, id)
	}
	return cloneDeployment(d), nil
}

func (s *DeploymentStore) CreateDeployment(_ context.Context, d *deployment.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.deployments[d.ID()]; exists {
		return fmt.Errorf("deployment %s already exists", d.ID())
	}
	s.deployments[d.ID()] = cloneDeployment(d)
	return nil
}

func (s *DeploymentStore) UpdateState(_ context.Context, d *deployment.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deployments[d.ID()]; !ok {
		return fmt.Errorf("%w: %s", deployment.ErrDeploymentNotFound, d.ID())
	}
	s.deployments[d.ID()] = cloneDeployment(d)
	return nil
}

func cloneDeployment(d *deployment.Deployment) *deployment.Deployment {
	return deployment.ReconstructDeployment(d.ID(), d.State(), d.OperationID(), d.UpdatedAt())
}
