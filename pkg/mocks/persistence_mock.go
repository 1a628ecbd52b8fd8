package mocks

import (
	"context"
	"time"

	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockHistoryRepository is a mock implementation of persistence.HistoryRepository interface.
type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	args := m.Called(ctx, entry)

	return args.Error(0)
}

func (m *MockHistoryRepository) ListByEntity(ctx context.Context, kind models.EntityKind, entityID string) ([]*models.HistoryEntry, error) {
	args := m.Called(ctx, kind, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.HistoryEntry), args.Error(1)
}

// MockProjectRepository is a mock implementation of persistence.ProjectRepository interface.
type MockProjectRepository struct {
	mock.Mock
}

func (m *MockProjectRepository) Create(ctx context.Context, project *models.Project) error {
	args := m.Called(ctx, project)

	return args.Error(0)
}

func (m *MockProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Project), args.Error(1)
}

func (m *MockProjectRepository) UpdateCurrentStep(ctx context.Context, change persistence.StepChange) error {
	args := m.Called(ctx, change)

	return args.Error(0)
}

func (m *MockProjectRepository) CountAtStep(ctx context.Context, stepID string) (int, error) {
	args := m.Called(ctx, stepID)

	return args.Int(0), args.Error(1)
}

func (m *MockProjectRepository) ListOrphans(ctx context.Context, createdBefore time.Time) ([]*models.Project, error) {
	args := m.Called(ctx, createdBefore)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Project), args.Error(1)
}

func (m *MockProjectRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockDefinitionCache is a mock of the workflow graph cache used by the services.
type MockDefinitionCache struct {
	mock.Mock
}

func (m *MockDefinitionCache) Get(ctx context.Context, workflowID string) (*models.Workflow, bool, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}

	return args.Get(0).(*models.Workflow), args.Bool(1), args.Error(2)
}

func (m *MockDefinitionCache) Generation(ctx context.Context, workflowID string) (int64, error) {
	args := m.Called(ctx, workflowID)

	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDefinitionCache) Set(ctx context.Context, workflow *models.Workflow, generation int64) error {
	args := m.Called(ctx, workflow, generation)

	return args.Error(0)
}

func (m *MockDefinitionCache) Invalidate(ctx context.Context, workflowID string) error {
	args := m.Called(ctx, workflowID)

	return args.Error(0)
}
