package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/pipecrm/wfm/pkg/adapters"
	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/otelhelper"
	"github.com/pipecrm/wfm/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Authoring is the administrative CRUD over workflow definitions and their catalogs.
//
// Definition edits are never retroactive: a project keeps its workflow and current step,
// and only later validations see the new transition graph.
type Authoring struct {
	persistence persistence.Persistence
	graphs      *graphs
	validate    *validator.Validate
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewAuthoring(persistence persistence.Persistence, cache DefinitionCache, tracer trace.Tracer, logger *slog.Logger) *Authoring {
	logger = logger.With("module", "authoring")

	return &Authoring{
		persistence: persistence,
		graphs:      &graphs{persistence: persistence, cache: cache, logger: logger},
		validate:    validator.New(),
		tracer:      tracer,
		logger:      logger,
	}
}

// HealthCheck checks the health of the persistence layer.
func (a *Authoring) HealthCheck(ctx context.Context) (string, bool) {
	if a.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := a.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Statuses

func (a *Authoring) ListStatuses(ctx context.Context) ([]*models.Status, error) {
	statuses, err := a.persistence.StatusRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}

	return statuses, nil
}

func (a *Authoring) StatusByName(ctx context.Context, name string) (*models.Status, error) {
	status, err := a.persistence.StatusRepository().GetByName(ctx, name)
	if err != nil {
		return nil, wrapStoreError("StatusByName", err)
	}

	return status, nil
}

func (a *Authoring) CreateStatus(ctx context.Context, status *models.Status, actorID string) (*models.Status, error) {
	status.ID = ""
	status.CreatedBy = actorID

	err := a.validate.Struct(status)
	if err != nil {
		return nil, NewValidationError("CreateStatus", err.Error(), err)
	}

	err = a.persistence.StatusRepository().Save(ctx, status)
	if err != nil {
		return nil, wrapStoreError("CreateStatus", err)
	}

	a.logger.InfoContext(ctx, "status created", "status_id", status.ID, "name", status.Name)

	return status, nil
}

// StatusUpdate holds the mutable status fields. Nil fields are left unchanged.
type StatusUpdate struct {
	Name        *string
	Color       *string
	Description *string
	IsArchived  *bool
}

func (a *Authoring) UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*models.Status, error) {
	repo := a.persistence.StatusRepository()

	status, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, wrapStoreError("UpdateStatus", err)
	}

	setIf(&status.Name, update.Name)
	setIf(&status.Color, update.Color)
	setIf(&status.Description, update.Description)
	setIf(&status.IsArchived, update.IsArchived)

	err = a.validate.Struct(status)
	if err != nil {
		return nil, NewValidationError("UpdateStatus", err.Error(), err)
	}

	err = repo.Save(ctx, status)
	if err != nil {
		return nil, wrapStoreError("UpdateStatus", err)
	}

	return status, nil
}

// Workflows

func (a *Authoring) ListWorkflows(ctx context.Context, includeArchived bool) ([]*models.Workflow, error) {
	workflows, err := a.persistence.WorkflowRepository().ListWorkflows(ctx, persistence.ListWorkflowsOptions{
		IncludeArchived: includeArchived,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// GetWorkflow returns the workflow with its ordered steps and its transitions.
func (a *Authoring) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := a.graphs.load(ctx, id)
	if err != nil {
		return nil, wrapStoreError("GetWorkflow", err)
	}

	return workflow, nil
}

func (a *Authoring) WorkflowByName(ctx context.Context, name string) (*models.Workflow, error) {
	workflow, err := a.persistence.WorkflowRepository().GetByName(ctx, name)
	if err != nil {
		return nil, wrapStoreError("WorkflowByName", err)
	}

	return workflow, nil
}

func (a *Authoring) CreateWorkflow(ctx context.Context, workflow *models.Workflow, actorID string) (*models.Workflow, error) {
	ctx, span := otelhelper.StartSpan(ctx, a.tracer, "authoring.create_workflow", attribute.String(otelhelper.ActorIDKey, actorID))
	defer span.End()

	workflow.ID = ""
	workflow.CreatedBy = actorID
	workflow.UpdatedBy = actorID
	workflow.Steps = nil
	workflow.Transitions = nil

	err := a.validate.Struct(workflow)
	if err != nil {
		return nil, NewValidationError("CreateWorkflow", err.Error(), err)
	}

	err = a.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, wrapStoreError("CreateWorkflow", err)
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowIDKey, workflow.ID))
	a.logger.InfoContext(ctx, "workflow created", "workflow_id", workflow.ID, "name", workflow.Name)

	return workflow, nil
}

// WorkflowUpdate holds the mutable workflow fields. Nil fields are left unchanged.
// Archiving is the only way to retire a workflow; archived workflows cannot be instantiated.
type WorkflowUpdate struct {
	Name        *string
	Description *string
	IsArchived  *bool
}

func (a *Authoring) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate, actorID string) (*models.Workflow, error) {
	repo := a.persistence.WorkflowRepository()

	workflow, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, wrapStoreError("UpdateWorkflow", err)
	}

	setIf(&workflow.Name, update.Name)
	setIf(&workflow.Description, update.Description)
	setIf(&workflow.IsArchived, update.IsArchived)
	workflow.UpdatedBy = actorID

	err = a.validate.Struct(workflow)
	if err != nil {
		return nil, NewValidationError("UpdateWorkflow", err.Error(), err)
	}

	err = repo.Save(ctx, workflow)
	if err != nil {
		return nil, wrapStoreError("UpdateWorkflow", err)
	}

	a.graphs.invalidate(ctx, id)

	return workflow, nil
}

// Steps

func (a *Authoring) ListSteps(ctx context.Context, workflowID string) ([]*models.Step, error) {
	repo := a.persistence.WorkflowRepository()

	_, err := repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, wrapStoreError("ListSteps", err)
	}

	steps, err := repo.ListSteps(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	return steps, nil
}

// StepInput describes a new step. A zero StepOrder appends the step after the last one.
type StepInput struct {
	StatusID      string
	StepOrder     int
	IsInitialStep bool
	IsFinalStep   bool
	Metadata      models.StepMetadata
}

// CreateStep adds a step. Marking it initial is allowed even if another step already is;
// instantiation is where the single-initial-step rule is enforced.
func (a *Authoring) CreateStep(ctx context.Context, workflowID string, input StepInput) (*models.Step, error) {
	ctx, span := otelhelper.StartSpan(ctx, a.tracer, "authoring.create_step", attribute.String(otelhelper.WorkflowIDKey, workflowID))
	defer span.End()

	repo := a.persistence.WorkflowRepository()

	_, err := repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, wrapStoreError("CreateStep", err)
	}

	err = a.checkStep(ctx, "CreateStep", input.StatusID, input.Metadata)
	if err != nil {
		return nil, err
	}

	order := input.StepOrder
	if order == 0 {
		order, err = repo.NextStepOrder(ctx, workflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to compute step order: %w", err)
		}
	}

	step := &models.Step{
		WorkflowID:    workflowID,
		StatusID:      input.StatusID,
		StepOrder:     order,
		IsInitialStep: input.IsInitialStep,
		IsFinalStep:   input.IsFinalStep,
		Metadata:      input.Metadata,
	}

	err = a.validate.Struct(step)
	if err != nil {
		return nil, NewValidationError("CreateStep", err.Error(), err)
	}

	err = repo.SaveStep(ctx, step)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, wrapStoreError("CreateStep", err)
	}

	a.graphs.invalidate(ctx, workflowID)
	span.SetAttributes(attribute.String(otelhelper.StepIDKey, step.ID))

	return step, nil
}

// StepUpdate holds the mutable step fields. Nil fields are left unchanged; a non-nil Metadata replaces the map.
// Order changes go through ReorderSteps.
type StepUpdate struct {
	StatusID      *string
	IsInitialStep *bool
	IsFinalStep   *bool
	Metadata      models.StepMetadata
}

func (a *Authoring) UpdateStep(ctx context.Context, workflowID, stepID string, update StepUpdate) (*models.Step, error) {
	step, err := a.workflowStep(ctx, "UpdateStep", workflowID, stepID)
	if err != nil {
		return nil, err
	}

	setIf(&step.StatusID, update.StatusID)
	setIf(&step.IsInitialStep, update.IsInitialStep)
	setIf(&step.IsFinalStep, update.IsFinalStep)

	if update.Metadata != nil {
		step.Metadata = update.Metadata
	}

	err = a.checkStep(ctx, "UpdateStep", step.StatusID, step.Metadata)
	if err != nil {
		return nil, err
	}

	err = a.persistence.WorkflowRepository().SaveStep(ctx, step)
	if err != nil {
		return nil, wrapStoreError("UpdateStep", err)
	}

	a.graphs.invalidate(ctx, workflowID)

	return step, nil
}

// DeleteStep removes a step and, through the store, every transition touching it.
// A step that is the current step of any project cannot be deleted.
func (a *Authoring) DeleteStep(ctx context.Context, workflowID, stepID string) error {
	_, err := a.workflowStep(ctx, "DeleteStep", workflowID, stepID)
	if err != nil {
		return err
	}

	count, err := a.persistence.ProjectRepository().CountAtStep(ctx, stepID)
	if err != nil {
		return fmt.Errorf("failed to count projects at step: %w", err)
	}

	if count > 0 {
		return &ServiceError{
			Op:      "DeleteStep",
			Code:    CodeStepInUse,
			Message: fmt.Sprintf("step %s is the current step of %d project(s)", stepID, count),
			Err:     ErrStepInUse,
		}
	}

	err = a.persistence.WorkflowRepository().DeleteStep(ctx, stepID)
	if err != nil {
		return wrapStoreError("DeleteStep", err)
	}

	a.graphs.invalidate(ctx, workflowID)

	return nil
}

// ReorderSteps rewrites every step order of the workflow to 1..n following orderedStepIDs, atomically.
// The ids must be exactly the workflow's current steps: extra, missing or duplicate ids are rejected.
func (a *Authoring) ReorderSteps(ctx context.Context, workflowID string, orderedStepIDs []string) ([]*models.Step, error) {
	ctx, span := otelhelper.StartSpan(ctx, a.tracer, "authoring.reorder_steps", attribute.String(otelhelper.WorkflowIDKey, workflowID))
	defer span.End()

	sorted := slices.Clone(orderedStepIDs)
	slices.Sort(sorted)

	if len(slices.Compact(sorted)) != len(orderedStepIDs) {
		return nil, NewValidationError("ReorderSteps", "step ids must not repeat", nil)
	}

	repo := a.persistence.WorkflowRepository()

	_, err := repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, wrapStoreError("ReorderSteps", err)
	}

	err = repo.ReorderSteps(ctx, workflowID, orderedStepIDs)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, wrapStoreError("ReorderSteps", err)
	}

	a.graphs.invalidate(ctx, workflowID)

	steps, err := repo.ListSteps(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	return steps, nil
}

// Transitions

func (a *Authoring) ListTransitions(ctx context.Context, workflowID string) ([]*models.Transition, error) {
	repo := a.persistence.WorkflowRepository()

	_, err := repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, wrapStoreError("ListTransitions", err)
	}

	transitions, err := repo.ListTransitions(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}

	return transitions, nil
}

// CreateTransition adds a named edge. Both endpoints must be steps of workflowID;
// self-transitions are allowed and exist only when created explicitly.
func (a *Authoring) CreateTransition(ctx context.Context, workflowID, fromStepID, toStepID, name string) (*models.Transition, error) {
	ctx, span := otelhelper.StartSpan(ctx, a.tracer, "authoring.create_transition",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.StepIDKey, fromStepID),
		attribute.String(otelhelper.TargetStepIDKey, toStepID),
	)
	defer span.End()

	repo := a.persistence.WorkflowRepository()

	_, err := repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, wrapStoreError("CreateTransition", err)
	}

	for _, stepID := range []string{fromStepID, toStepID} {
		err = a.stepInWorkflow(ctx, "CreateTransition", workflowID, stepID)
		if err != nil {
			return nil, err
		}
	}

	transition := &models.Transition{
		WorkflowID: workflowID,
		FromStepID: fromStepID,
		ToStepID:   toStepID,
		Name:       name,
	}

	err = a.validate.Struct(transition)
	if err != nil {
		return nil, NewValidationError("CreateTransition", err.Error(), err)
	}

	err = repo.SaveTransition(ctx, transition)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, wrapStoreError("CreateTransition", err)
	}

	a.graphs.invalidate(ctx, workflowID)
	span.SetAttributes(attribute.String(otelhelper.TransitionIDKey, transition.ID))

	return transition, nil
}

func (a *Authoring) DeleteTransition(ctx context.Context, workflowID, transitionID string) error {
	repo := a.persistence.WorkflowRepository()

	transition, err := repo.GetTransition(ctx, transitionID)
	if err != nil {
		return wrapStoreError("DeleteTransition", err)
	}

	if transition.WorkflowID != workflowID {
		return newNotFoundError("DeleteTransition", fmt.Errorf("transition %s: %w", transitionID, persistence.ErrTransitionNotFound))
	}

	err = repo.DeleteTransition(ctx, transitionID)
	if err != nil {
		return wrapStoreError("DeleteTransition", err)
	}

	a.graphs.invalidate(ctx, workflowID)

	return nil
}

// Project types

func (a *Authoring) ListProjectTypes(ctx context.Context) ([]*models.ProjectType, error) {
	projectTypes, err := a.persistence.ProjectTypeRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list project types: %w", err)
	}

	return projectTypes, nil
}

func (a *Authoring) ProjectTypeByName(ctx context.Context, name string) (*models.ProjectType, error) {
	projectType, err := a.persistence.ProjectTypeRepository().GetByName(ctx, name)
	if err != nil {
		return nil, wrapStoreError("ProjectTypeByName", err)
	}

	return projectType, nil
}

func (a *Authoring) CreateProjectType(ctx context.Context, projectType *models.ProjectType) (*models.ProjectType, error) {
	projectType.ID = ""

	err := a.saveProjectType(ctx, "CreateProjectType", projectType)
	if err != nil {
		return nil, err
	}

	return projectType, nil
}

// ProjectTypeUpdate holds the mutable project type fields. Nil fields are left unchanged.
type ProjectTypeUpdate struct {
	Name              *string
	Description       *string
	DefaultWorkflowID *string
	IconName          *string
	IsArchived        *bool
}

func (a *Authoring) UpdateProjectType(ctx context.Context, id string, update ProjectTypeUpdate) (*models.ProjectType, error) {
	projectType, err := a.persistence.ProjectTypeRepository().GetByID(ctx, id)
	if err != nil {
		return nil, wrapStoreError("UpdateProjectType", err)
	}

	setIf(&projectType.Name, update.Name)
	setIf(&projectType.Description, update.Description)
	setIf(&projectType.DefaultWorkflowID, update.DefaultWorkflowID)
	setIf(&projectType.IconName, update.IconName)
	setIf(&projectType.IsArchived, update.IsArchived)

	err = a.saveProjectType(ctx, "UpdateProjectType", projectType)
	if err != nil {
		return nil, err
	}

	return projectType, nil
}

func (a *Authoring) saveProjectType(ctx context.Context, op string, projectType *models.ProjectType) error {
	err := a.validate.Struct(projectType)
	if err != nil {
		return NewValidationError(op, err.Error(), err)
	}

	if projectType.DefaultWorkflowID != "" {
		_, err = a.persistence.WorkflowRepository().GetByID(ctx, projectType.DefaultWorkflowID)
		if err != nil {
			if persistence.IsNotFound(err) {
				return newInvalidReferenceError(op, "default workflow does not exist", err)
			}

			return fmt.Errorf("failed to load default workflow: %w", err)
		}
	}

	err = a.persistence.ProjectTypeRepository().Save(ctx, projectType)
	if err != nil {
		return wrapStoreError(op, err)
	}

	return nil
}

// checkStep verifies the status reference and the documented metadata keys of a step.
func (a *Authoring) checkStep(ctx context.Context, op, statusID string, metadata models.StepMetadata) error {
	if statusID == "" {
		return NewValidationError(op, "status id is required", nil)
	}

	_, err := a.persistence.StatusRepository().GetByID(ctx, statusID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return newInvalidReferenceError(op, "status "+statusID+" does not exist", err)
		}

		return fmt.Errorf("failed to load status: %w", err)
	}

	err = adapters.ValidateMetadata(metadata)
	if err != nil {
		return NewValidationError(op, err.Error(), err)
	}

	return nil
}

// workflowStep loads a step and reports it as not found when it belongs to another workflow.
func (a *Authoring) workflowStep(ctx context.Context, op, workflowID, stepID string) (*models.Step, error) {
	step, err := a.persistence.WorkflowRepository().GetStep(ctx, stepID)
	if err != nil {
		return nil, wrapStoreError(op, err)
	}

	if step.WorkflowID != workflowID {
		return nil, newNotFoundError(op, fmt.Errorf("step %s: %w", stepID, persistence.ErrStepNotFound))
	}

	return step, nil
}

// stepInWorkflow rejects a missing step or a step of another workflow as an invalid reference.
func (a *Authoring) stepInWorkflow(ctx context.Context, op, workflowID, stepID string) error {
	step, err := a.persistence.WorkflowRepository().GetStep(ctx, stepID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return newInvalidReferenceError(op, "step "+stepID+" does not exist", err)
		}

		return fmt.Errorf("failed to load step: %w", err)
	}

	if step.WorkflowID != workflowID {
		return newInvalidReferenceError(op, "step "+stepID+" belongs to another workflow", nil)
	}

	return nil
}

func setIf[T any](field *T, value *T) {
	if value != nil {
		*field = *value
	}
}
