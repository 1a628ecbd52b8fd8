package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/pipecrm/wfm/pkg/adapters"
	"github.com/pipecrm/wfm/pkg/eventbus"
	"github.com/pipecrm/wfm/pkg/events"
	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/persistence"
)

type entityRepository[E models.Entity, P adapters.Patch[E]] interface {
	Create(ctx context.Context, entity E) error
	GetByID(ctx context.Context, id string) (E, error)
	Update(ctx context.Context, entity E) error
	ApplyStepFields(ctx context.Context, id, stepID string, fields P) (bool, error)
	Delete(ctx context.Context, id string) error
}

// EntityDeps are the collaborators shared by the lead and deal services.
type EntityDeps struct {
	Persistence persistence.Persistence
	Projects    *Projects
	Progression *Progression
	Publisher   eventbus.EventPublisher
	Logger      *slog.Logger
}

// entityWorkflow drives one entity kind through its WFM project.
// The adapter is the only place that knows the entity's fields and ownership rules.
type entityWorkflow[E models.Entity, P adapters.Patch[E]] struct {
	op              string
	projectTypeName string
	repo            entityRepository[E, P]
	adapter         adapters.Adapter[E, P]
	deps            EntityDeps
	validate        *validator.Validate
	logger          *slog.Logger
}

func newEntityWorkflow[E models.Entity, P adapters.Patch[E]](
	op, projectTypeName string,
	repo entityRepository[E, P],
	adapter adapters.Adapter[E, P],
	deps EntityDeps,
) *entityWorkflow[E, P] {
	if deps.Publisher == nil {
		deps.Publisher = eventbus.Discard{}
	}

	return &entityWorkflow[E, P]{
		op:              op,
		projectTypeName: projectTypeName,
		repo:            repo,
		adapter:         adapter,
		deps:            deps,
		validate:        validator.New(),
		logger:          deps.Logger.With("module", op),
	}
}

// CreateOptions selects the workflow a new entity's project runs on.
// Without a workflow the project type's default workflow is used.
type CreateOptions struct {
	WorkflowID string
}

// Create instantiates the entity's project, applies the initial step's metadata and stores the entity
// linked to the project. If storing the entity fails the project stays orphaned and the error is returned
// so the caller can retry the whole creation.
func (w *entityWorkflow[E, P]) Create(ctx context.Context, entity E, actor models.Actor, opts CreateOptions) (E, error) {
	var zero E

	op := "Create" + w.op

	if actor.UserID == "" {
		return zero, NewValidationError(op, "actor is required", nil)
	}

	err := w.validate.Struct(entity)
	if err != nil {
		return zero, NewValidationError(op, err.Error(), err)
	}

	projectTypeID, err := w.projectTypeID(ctx, op, opts.WorkflowID)
	if err != nil {
		return zero, err
	}

	project, err := w.deps.Projects.CreateProject(ctx, CreateProjectRequest{
		ProjectTypeID: projectTypeID,
		WorkflowID:    opts.WorkflowID,
		Name:          entity.DisplayName(),
		ActorUserID:   actor.UserID,
	})
	if err != nil {
		return zero, err
	}

	patch, err := w.adapter.ApplyStepMetadata(entity, project.CurrentStep)
	if err != nil {
		w.logOrphan(ctx, project, err)

		return zero, newConfigurationError(op, err.Error())
	}

	patch.Apply(entity)
	entity.LinkProject(project.ID)

	err = w.repo.Create(ctx, entity)
	if err != nil {
		w.logOrphan(ctx, project, err)

		return zero, fmt.Errorf("%s: linking project %s failed: %w", op, project.ID, err)
	}

	w.recordChange(ctx, entity, actor, models.HistoryCreated, map[string]any{
		models.PayloadProjectID:  project.ID,
		models.PayloadWorkflowID: project.WorkflowID,
		models.PayloadNewStepID:  project.CurrentStepID,
	})

	return entity, nil
}

// Get returns the entity.
func (w *entityWorkflow[E, P]) Get(ctx context.Context, id string) (E, error) {
	entity, err := w.repo.GetByID(ctx, id)
	if err != nil {
		var zero E

		return zero, wrapStoreError("Get"+w.op, err)
	}

	return entity, nil
}

// Update loads the entity, checks the actor against the same ownership rule as progression and
// stores the fields changed by mutate. The creator, the project link and the step fields are never rewritten.
func (w *entityWorkflow[E, P]) Update(ctx context.Context, id string, actor models.Actor, mutate func(E) error) (E, error) {
	var zero E

	op := "Update" + w.op

	entity, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return zero, wrapStoreError(op, err)
	}

	if !w.adapter.AuthorizeProgression(entity, actor) {
		return zero, w.forbidden(op, entity, actor)
	}

	err = mutate(entity)
	if err != nil {
		return zero, NewValidationError(op, err.Error(), err)
	}

	err = w.validate.Struct(entity)
	if err != nil {
		return zero, NewValidationError(op, err.Error(), err)
	}

	err = w.repo.Update(ctx, entity)
	if err != nil {
		return zero, wrapStoreError(op, err)
	}

	w.recordChange(ctx, entity, actor, models.HistoryUpdated, nil)

	// Step fields may have moved on since the entity was loaded.
	entity, err = w.repo.GetByID(ctx, id)
	if err != nil {
		return zero, wrapStoreError(op, err)
	}

	return entity, nil
}

// Delete removes the entity together with its project.
func (w *entityWorkflow[E, P]) Delete(ctx context.Context, id string, actor models.Actor) error {
	op := "Delete" + w.op

	entity, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return wrapStoreError(op, err)
	}

	if !w.adapter.AuthorizeProgression(entity, actor) {
		return w.forbidden(op, entity, actor)
	}

	err = w.repo.Delete(ctx, id)
	if err != nil {
		return wrapStoreError(op, err)
	}

	w.recordChange(ctx, entity, actor, models.HistoryDeleted, map[string]any{
		models.PayloadProjectID: entity.ProjectID(),
	})

	return nil
}

// Progress moves the entity's project to targetStepID and applies the target step's metadata to the entity.
//
// The adapter authorizes the actor and validates the target step's metadata before anything is written.
// Transition validation belongs to the progression service alone.
func (w *entityWorkflow[E, P]) Progress(ctx context.Context, id, targetStepID string, actor models.Actor) (E, error) {
	var zero E

	op := "Progress" + w.op

	entity, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return zero, wrapStoreError(op, err)
	}

	if !w.adapter.AuthorizeProgression(entity, actor) {
		return zero, w.forbidden(op, entity, actor)
	}

	if entity.ProjectID() == "" {
		return zero, NewValidationError(op, string(entity.Ref().Kind)+" "+id+" has no WFM project", nil)
	}

	target, err := w.deps.Persistence.WorkflowRepository().GetStep(ctx, targetStepID)
	if err != nil {
		return zero, wrapStoreError(op, err)
	}

	patch, err := w.adapter.ApplyStepMetadata(entity, target)
	if err != nil {
		return zero, newConfigurationError(op, err.Error())
	}

	ref := entity.Ref()

	_, err = w.deps.Progression.Progress(ctx, ProgressRequest{
		ProjectID:    entity.ProjectID(),
		TargetStepID: targetStepID,
		ActorUserID:  actor.UserID,
		Subject:      &ref,
	})
	if err != nil {
		return zero, err
	}

	if !patch.Empty() {
		applied, err := w.repo.ApplyStepFields(ctx, id, targetStepID, patch)
		if err != nil {
			w.logger.ErrorContext(ctx, "step changed but entity fields were not updated",
				"entity_id", id,
				"project_id", entity.ProjectID(),
				"target_step_id", targetStepID,
				"error", err,
			)

			return zero, fmt.Errorf("%s: failed to apply step metadata: %w", op, err)
		}

		if !applied {
			w.logger.InfoContext(ctx, "project moved on before step fields were written",
				"entity_id", id,
				"project_id", entity.ProjectID(),
				"target_step_id", targetStepID,
			)
		}
	}

	entity, err = w.repo.GetByID(ctx, id)
	if err != nil {
		return zero, wrapStoreError(op, err)
	}

	return entity, nil
}

// History returns the entity's audit trail, oldest first.
func (w *entityWorkflow[E, P]) History(ctx context.Context, id string) ([]*models.HistoryEntry, error) {
	entity, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return nil, wrapStoreError("History", err)
	}

	ref := entity.Ref()

	entries, err := w.deps.Persistence.HistoryRepository().ListByEntity(ctx, ref.Kind, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	return entries, nil
}

// projectTypeID resolves the project type of this entity kind. It is required only when no explicit
// workflow is given, because then its default workflow is used.
func (w *entityWorkflow[E, P]) projectTypeID(ctx context.Context, op, workflowID string) (string, error) {
	projectType, err := w.deps.Persistence.ProjectTypeRepository().GetByName(ctx, w.projectTypeName)
	if err == nil {
		return projectType.ID, nil
	}

	if !persistence.IsNotFound(err) {
		return "", fmt.Errorf("failed to load project type: %w", err)
	}

	if workflowID != "" {
		return "", nil
	}

	return "", newConfigurationError(op, "project type "+w.projectTypeName+" is not configured")
}

func (w *entityWorkflow[E, P]) forbidden(op string, entity E, actor models.Actor) error {
	ref := entity.Ref()

	return &ServiceError{
		Op:      op,
		Code:    CodeForbidden,
		Message: fmt.Sprintf("user %q may not modify %s %s", actor.UserID, ref.Kind, ref.ID),
		Err:     ErrForbidden,
	}
}

func (w *entityWorkflow[E, P]) logOrphan(ctx context.Context, project *models.Project, err error) {
	w.logger.ErrorContext(ctx, "project orphaned: entity was not linked",
		"project_id", project.ID,
		"workflow_id", project.WorkflowID,
		"error", err,
	)
}

// recordChange appends a lifecycle history entry and publishes the matching event, both best-effort.
func (w *entityWorkflow[E, P]) recordChange(ctx context.Context, entity E, actor models.Actor, change models.HistoryEventType, payload map[string]any) {
	ref := entity.Ref()

	err := w.deps.Persistence.HistoryRepository().Append(ctx, &models.HistoryEntry{
		EntityID:    ref.ID,
		EntityKind:  ref.Kind,
		ActorUserID: actor.UserID,
		EventType:   change,
		Payload:     payload,
	})
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to append history", "entity_id", ref.ID, "event_type", change, "error", err)
	}

	eventType, ok := events.EntityEventType(ref.Kind, change)
	if !ok {
		return
	}

	event := events.EntityChanged{
		BaseEvent:    events.NewBaseEvent(eventType, actor.UserID),
		EntityID:     ref.ID,
		EntityKind:   ref.Kind,
		WFMProjectID: entity.ProjectID(),
	}

	err = w.deps.Publisher.Publish(ctx, ref.ID, event)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to publish entity event", "entity_id", ref.ID, "event_type", eventType, "error", err)
	}
}

// Leads manages leads and their qualification projects.
type Leads struct {
	*entityWorkflow[*models.Lead, adapters.LeadPatch]
}

func NewLeads(deps EntityDeps) *Leads {
	return &Leads{newEntityWorkflow[*models.Lead, adapters.LeadPatch](
		"Lead",
		models.ProjectTypeLeadQualification,
		deps.Persistence.LeadRepository(),
		adapters.NewLeadAdapter(),
		deps,
	)}
}

// Deals manages deals and their sales projects.
type Deals struct {
	*entityWorkflow[*models.Deal, adapters.DealPatch]
}

func NewDeals(deps EntityDeps) *Deals {
	return &Deals{newEntityWorkflow[*models.Deal, adapters.DealPatch](
		"Deal",
		models.ProjectTypeSalesDeal,
		deps.Persistence.DealRepository(),
		adapters.NewDealAdapter(),
		deps,
	)}
}
