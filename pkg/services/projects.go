package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/pipecrm/wfm/pkg/metrics"
	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/otelhelper"
	"github.com/pipecrm/wfm/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Projects instantiates workflows for business entities and reads running projects.
type Projects struct {
	persistence persistence.Persistence
	validator   *Validator
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewProjects(
	persistence persistence.Persistence,
	validator *Validator,
	metrics *metrics.Metrics,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Projects {
	return &Projects{
		persistence: persistence,
		validator:   validator,
		metrics:     metrics,
		tracer:      tracer,
		logger:      logger.With("module", "projects"),
	}
}

// CreateProjectRequest names the workflow to instantiate. An empty WorkflowID falls back to
// the project type's default workflow.
type CreateProjectRequest struct {
	ProjectTypeID string
	WorkflowID    string
	Name          string
	ActorUserID   string
}

// CreateProject creates a project positioned on the workflow's single initial step.
//
// Zero or several initial steps is a configuration error; there is no fallback to the first step by order.
// The caller links the returned project to its entity in a separate write. If that write fails the
// project is left orphaned for the janitor to report.
func (p *Projects) CreateProject(ctx context.Context, req CreateProjectRequest) (*models.Project, error) {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "projects.create",
		attribute.String(otelhelper.ActorIDKey, req.ActorUserID),
	)
	defer span.End()

	project, err := p.createProject(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)
		p.metrics.ProjectCreated(outcome(err))

		return nil, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.ProjectIDKey, project.ID),
		attribute.String(otelhelper.WorkflowIDKey, project.WorkflowID),
	)
	p.metrics.ProjectCreated(metrics.OutcomeSuccess)

	return project, nil
}

func (p *Projects) createProject(ctx context.Context, req CreateProjectRequest) (*models.Project, error) {
	if req.Name == "" {
		return nil, NewValidationError("CreateProject", "project name is required", nil)
	}

	workflowID := req.WorkflowID

	if req.ProjectTypeID != "" {
		projectType, err := p.persistence.ProjectTypeRepository().GetByID(ctx, req.ProjectTypeID)
		if err != nil {
			if persistence.IsNotFound(err) {
				return nil, newInvalidReferenceError("CreateProject", "project type "+req.ProjectTypeID+" does not exist", err)
			}

			return nil, fmt.Errorf("failed to load project type: %w", err)
		}

		if workflowID == "" {
			workflowID = projectType.DefaultWorkflowID
		}

		if workflowID == "" {
			return nil, newConfigurationError("CreateProject", "project type "+projectType.Name+" has no default workflow")
		}
	}

	if workflowID == "" {
		return nil, NewValidationError("CreateProject", "a workflow or a project type is required", nil)
	}

	repo := p.persistence.WorkflowRepository()

	workflow, err := repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, wrapStoreError("CreateProject", err)
	}

	if workflow.IsArchived {
		return nil, NewValidationError("CreateProject", "workflow "+workflow.Name+" is archived", nil)
	}

	workflow.Steps, err = repo.ListSteps(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	initial := workflow.InitialSteps()
	if len(initial) != 1 {
		p.logger.ErrorContext(ctx, "workflow cannot be instantiated",
			"workflow_id", workflowID,
			"initial_steps", len(initial),
		)

		return nil, newConfigurationError("CreateProject",
			"workflow "+workflow.Name+" must have exactly one initial step, found "+strconv.Itoa(len(initial)))
	}

	project := &models.Project{
		WorkflowID:    workflowID,
		ProjectTypeID: req.ProjectTypeID,
		CurrentStepID: initial[0].ID,
		Name:          req.Name,
		CreatedBy:     req.ActorUserID,
		UpdatedBy:     req.ActorUserID,
	}

	err = p.persistence.ProjectRepository().Create(ctx, project)
	if err != nil {
		return nil, wrapStoreError("CreateProject", err)
	}

	project.CurrentStep = initial[0]

	p.logger.InfoContext(ctx, "project created",
		"project_id", project.ID,
		"workflow_id", workflowID,
		"step_id", project.CurrentStepID,
	)

	return project, nil
}

// GetProject returns a project with its current step resolved.
func (p *Projects) GetProject(ctx context.Context, id string) (*models.Project, error) {
	project, err := p.persistence.ProjectRepository().GetByID(ctx, id)
	if err != nil {
		return nil, wrapStoreError("GetProject", err)
	}

	project.CurrentStep, err = p.persistence.WorkflowRepository().GetStep(ctx, project.CurrentStepID)
	if err != nil {
		return nil, wrapStoreError("GetProject", err)
	}

	return project, nil
}

// NextSteps returns the steps the project can move to from its current step.
func (p *Projects) NextSteps(ctx context.Context, id string) ([]*models.Step, error) {
	project, err := p.persistence.ProjectRepository().GetByID(ctx, id)
	if err != nil {
		return nil, wrapStoreError("NextSteps", err)
	}

	return p.validator.AllowedTargets(ctx, project.WorkflowID, project.CurrentStepID)
}

// outcome maps an error to its metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case IsNotFound(err):
		return metrics.OutcomeNotFound
	case IsInvalidTransition(err):
		return metrics.OutcomeInvalidTransition
	case IsConfigurationError(err):
		return metrics.OutcomeConfigurationError
	case errors.Is(err, ErrConcurrentModification):
		return metrics.OutcomeConcurrentModification
	default:
		return metrics.OutcomeError
	}
}
