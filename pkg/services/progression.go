package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pipecrm/wfm/pkg/eventbus"
	"github.com/pipecrm/wfm/pkg/events"
	"github.com/pipecrm/wfm/pkg/metrics"
	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/otelhelper"
	"github.com/pipecrm/wfm/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Progression moves projects between steps. It is the only writer of a project's current step.
type Progression struct {
	persistence persistence.Persistence
	validator   *Validator
	publisher   eventbus.EventPublisher
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewProgression(
	persistence persistence.Persistence,
	validator *Validator,
	publisher eventbus.EventPublisher,
	metrics *metrics.Metrics,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Progression {
	if publisher == nil {
		publisher = eventbus.Discard{}
	}

	return &Progression{
		persistence: persistence,
		validator:   validator,
		publisher:   publisher,
		metrics:     metrics,
		tracer:      tracer,
		logger:      logger.With("module", "progression"),
	}
}

// ProgressRequest asks to move a project to TargetStepID.
// Subject is the entity driven by the project; history and events are recorded against it.
// Without a subject they are recorded against the project itself.
type ProgressRequest struct {
	ProjectID    string
	TargetStepID string
	ActorUserID  string
	Subject      *models.EntityRef
}

// Progress validates and commits a step change.
//
// Loading, validation and the conditional write are each fatal. The write only succeeds if the
// project is still on the step that was validated; otherwise ErrConcurrentModification is returned
// and the caller should reload and retry. Final steps are advisory and can be left again through
// an explicit transition.
func (p *Progression) Progress(ctx context.Context, req ProgressRequest) (*models.Project, error) {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "progression.progress",
		attribute.String(otelhelper.ProjectIDKey, req.ProjectID),
		attribute.String(otelhelper.TargetStepIDKey, req.TargetStepID),
		attribute.String(otelhelper.ActorIDKey, req.ActorUserID),
	)
	defer span.End()

	project, previousStepID, err := p.progress(ctx, req)

	p.metrics.Progression(outcome(err))

	if err != nil {
		otelhelper.SetError(span, err)
		p.logger.WarnContext(ctx, "progression rejected",
			"project_id", req.ProjectID,
			"target_step_id", req.TargetStepID,
			"error", err,
		)

		return nil, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.WorkflowIDKey, project.WorkflowID),
		attribute.String(otelhelper.StepIDKey, previousStepID),
	)

	subject := models.EntityRef{ID: project.ID, Kind: models.EntityKindProject}
	if req.Subject != nil {
		subject = *req.Subject
	}

	p.recordHistory(ctx, project, previousStepID, subject)
	p.publish(ctx, project, previousStepID, subject)

	return project, nil
}

func (p *Progression) progress(ctx context.Context, req ProgressRequest) (*models.Project, string, error) {
	project, err := p.persistence.ProjectRepository().GetByID(ctx, req.ProjectID)
	if err != nil {
		return nil, "", wrapStoreError("Progress", err)
	}

	steps := p.persistence.WorkflowRepository()

	_, err = steps.GetStep(ctx, project.CurrentStepID)
	if err != nil {
		return nil, "", wrapStoreError("Progress", err)
	}

	target, err := steps.GetStep(ctx, req.TargetStepID)
	if err != nil {
		return nil, "", wrapStoreError("Progress", err)
	}

	ok, err := p.validator.Validate(ctx, project.WorkflowID, project.CurrentStepID, target.ID)
	if err != nil {
		return nil, "", err
	}

	if !ok {
		return nil, "", &ServiceError{
			Op:      "Progress",
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("no transition from step %s to step %s", project.CurrentStepID, target.ID),
			Err:     ErrInvalidTransition,
		}
	}

	previousStepID := project.CurrentStepID
	at := time.Now().UTC()

	err = p.persistence.ProjectRepository().UpdateCurrentStep(ctx, persistence.StepChange{
		ProjectID:      project.ID,
		ExpectedStepID: previousStepID,
		NewStepID:      target.ID,
		ActorUserID:    req.ActorUserID,
		At:             at,
	})
	if err != nil {
		return nil, "", wrapStoreError("Progress", err)
	}

	project.CurrentStepID = target.ID
	project.CurrentStep = target
	project.UpdatedBy = req.ActorUserID
	project.UpdatedAt = at

	p.logger.InfoContext(ctx, "project progressed",
		"project_id", project.ID,
		"workflow_id", project.WorkflowID,
		"previous_step_id", previousStepID,
		"new_step_id", target.ID,
		"actor_id", req.ActorUserID,
	)

	return project, previousStepID, nil
}

// recordHistory appends the audit entry after the step change has committed.
// A failure is logged and counted, never returned.
// TODO: write the entry through a transactional outbox in the same transaction as the step change.
func (p *Progression) recordHistory(ctx context.Context, project *models.Project, previousStepID string, subject models.EntityRef) {
	err := p.persistence.HistoryRepository().Append(ctx, &models.HistoryEntry{
		EntityID:    subject.ID,
		EntityKind:  subject.Kind,
		ActorUserID: project.UpdatedBy,
		EventType:   models.HistoryStepChanged,
		Payload: map[string]any{
			models.PayloadPreviousStepID: previousStepID,
			models.PayloadNewStepID:      project.CurrentStepID,
			models.PayloadWorkflowID:     project.WorkflowID,
			models.PayloadProjectID:      project.ID,
		},
	})
	if err != nil {
		p.metrics.HistoryAppendFailed()
		p.logger.ErrorContext(ctx, "failed to append step change history",
			"project_id", project.ID,
			"entity_id", subject.ID,
			"error", err,
		)
	}
}

func (p *Progression) publish(ctx context.Context, project *models.Project, previousStepID string, subject models.EntityRef) {
	err := p.publisher.Publish(ctx, project.ID, events.StepChanged{
		BaseEvent:      events.NewBaseEvent(events.StepChangedEvent, project.UpdatedBy),
		EntityID:       subject.ID,
		EntityKind:     subject.Kind,
		PreviousStepID: previousStepID,
		NewStepID:      project.CurrentStepID,
		ProjectID:      project.ID,
		WorkflowID:     project.WorkflowID,
	})
	if err != nil {
		p.metrics.EventPublishFailed()
		p.logger.ErrorContext(ctx, "failed to publish step changed event", "project_id", project.ID, "error", err)
	}
}
