package services

import (
	"context"
	"log/slog"

	"github.com/pipecrm/wfm/pkg/metrics"
	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/persistence"
)

// Validator decides whether a project may move between two steps.
// Every legal move is an explicit transition row; there is no implicit reachability.
type Validator struct {
	graphs *graphs
}

func NewValidator(persistence persistence.Persistence, cache DefinitionCache, metrics *metrics.Metrics, logger *slog.Logger) *Validator {
	return &Validator{
		graphs: &graphs{
			persistence: persistence,
			cache:       cache,
			metrics:     metrics,
			logger:      logger.With("module", "transition_validator"),
		},
	}
}

// Validate reports whether a transition fromStepID -> toStepID exists in the workflow and both steps belong to it.
// An empty fromStepID fails closed.
func (v *Validator) Validate(ctx context.Context, workflowID, fromStepID, toStepID string) (bool, error) {
	if fromStepID == "" || toStepID == "" {
		return false, nil
	}

	workflow, err := v.graphs.load(ctx, workflowID)
	if err != nil {
		return false, wrapStoreError("Validate", err)
	}

	return allowed(workflow, fromStepID, toStepID), nil
}

// AllowedTargets returns the steps reachable in one transition from fromStepID, in step order.
func (v *Validator) AllowedTargets(ctx context.Context, workflowID, fromStepID string) ([]*models.Step, error) {
	targets := make([]*models.Step, 0)

	if fromStepID == "" {
		return targets, nil
	}

	workflow, err := v.graphs.load(ctx, workflowID)
	if err != nil {
		return nil, wrapStoreError("AllowedTargets", err)
	}

	for _, step := range workflow.Steps {
		if allowed(workflow, fromStepID, step.ID) {
			targets = append(targets, step)
		}
	}

	return targets, nil
}

func allowed(workflow *models.Workflow, fromStepID, toStepID string) bool {
	if _, ok := workflow.FindStep(fromStepID); !ok {
		return false
	}

	if _, ok := workflow.FindStep(toStepID); !ok {
		return false
	}

	for _, transition := range workflow.Transitions {
		if transition.WorkflowID == workflow.ID &&
			transition.FromStepID == fromStepID &&
			transition.ToStepID == toStepID {
			return true
		}
	}

	return false
}
