// Package persistence provides the relational store abstraction the WFM engine is specified against.
package persistence

import (
	"context"
	"time"

	"github.com/pipecrm/wfm/pkg/models"
)

// Persistence groups the repositories of one backing store.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	StatusRepository() StatusRepository
	ProjectTypeRepository() ProjectTypeRepository
	ProjectRepository() ProjectRepository
	HistoryRepository() HistoryRepository
	LeadRepository() LeadRepository
	DealRepository() DealRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters workflow listings.
type ListWorkflowsOptions struct {
	IncludeArchived bool
}

// WorkflowRepository stores workflows together with their steps and transitions.
type WorkflowRepository interface {
	ListWorkflows(ctx context.Context, opts ListWorkflowsOptions) ([]*models.Workflow, error)
	// GetByID returns ErrWorkflowNotFound when no row exists.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	GetByName(ctx context.Context, name string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error

	// ListSteps returns the workflow's steps ordered by step_order.
	ListSteps(ctx context.Context, workflowID string) ([]*models.Step, error)
	GetStep(ctx context.Context, stepID string) (*models.Step, error)
	SaveStep(ctx context.Context, step *models.Step) error
	// DeleteStep returns ErrStepInUse when a project still sits on the step.
	DeleteStep(ctx context.Context, stepID string) error
	NextStepOrder(ctx context.Context, workflowID string) (int, error)
	// ReorderSteps rewrites step_order to 1..n following orderedStepIDs in a single transaction.
	// It returns ErrStepSetMismatch when the ids are not exactly the workflow's current step set.
	ReorderSteps(ctx context.Context, workflowID string, orderedStepIDs []string) error

	ListTransitions(ctx context.Context, workflowID string) ([]*models.Transition, error)
	GetTransition(ctx context.Context, transitionID string) (*models.Transition, error)
	SaveTransition(ctx context.Context, transition *models.Transition) error
	DeleteTransition(ctx context.Context, transitionID string) error
}

// StatusRepository stores the step status catalog.
type StatusRepository interface {
	List(ctx context.Context) ([]*models.Status, error)
	GetByID(ctx context.Context, id string) (*models.Status, error)
	GetByName(ctx context.Context, name string) (*models.Status, error)
	Save(ctx context.Context, status *models.Status) error
}

// ProjectTypeRepository stores project types.
type ProjectTypeRepository interface {
	List(ctx context.Context) ([]*models.ProjectType, error)
	GetByID(ctx context.Context, id string) (*models.ProjectType, error)
	GetByName(ctx context.Context, name string) (*models.ProjectType, error)
	Save(ctx context.Context, projectType *models.ProjectType) error
}

// ProjectRepository stores running workflow instances.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	GetByID(ctx context.Context, id string) (*models.Project, error)
	// UpdateCurrentStep moves the project only if its current step still equals expectedStepID.
	// Zero affected rows is reported as ErrConcurrentModification.
	UpdateCurrentStep(ctx context.Context, change StepChange) error
	CountAtStep(ctx context.Context, stepID string) (int, error)
	// ListOrphans returns projects created before the cutoff that no lead or deal links to.
	ListOrphans(ctx context.Context, createdBefore time.Time) ([]*models.Project, error)
	Delete(ctx context.Context, id string) error
}

// StepChange describes a conditional current-step update.
type StepChange struct {
	ProjectID      string
	ExpectedStepID string
	NewStepID      string
	ActorUserID    string
	At             time.Time
}

// HistoryRepository is the append-only audit trail.
type HistoryRepository interface {
	Append(ctx context.Context, entry *models.HistoryEntry) error
	ListByEntity(ctx context.Context, kind models.EntityKind, entityID string) ([]*models.HistoryEntry, error)
}

// LeadRepository stores leads. Delete removes the lead's project in the same transaction.
// Update never writes the step fields; only ApplyStepFields does.
type LeadRepository interface {
	Create(ctx context.Context, lead *models.Lead) error
	GetByID(ctx context.Context, id string) (*models.Lead, error)
	Update(ctx context.Context, lead *models.Lead) error
	// ApplyStepFields writes the non-nil fields only while the lead's project is on stepID.
	// It reports false when the project has already moved on.
	ApplyStepFields(ctx context.Context, id, stepID string, fields models.LeadStepFields) (bool, error)
	Delete(ctx context.Context, id string) error
}

// DealRepository stores deals. Delete removes the deal's project in the same transaction.
// Update never writes the step fields; only ApplyStepFields does.
type DealRepository interface {
	Create(ctx context.Context, deal *models.Deal) error
	GetByID(ctx context.Context, id string) (*models.Deal, error)
	Update(ctx context.Context, deal *models.Deal) error
	ApplyStepFields(ctx context.Context, id, stepID string, fields models.DealStepFields) (bool, error)
	Delete(ctx context.Context, id string) error
}
