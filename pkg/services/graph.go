package services

import (
	"context"
	"log/slog"

	"github.com/pipecrm/wfm/pkg/metrics"
	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/persistence"
)

// DefinitionCache stores whole workflow graphs (workflow, steps and transitions).
// Implementations must treat a miss as (nil, false, nil).
//
// Every Invalidate advances the workflow's generation. Set must discard a graph whose generation,
// read before the graph was loaded from the store, is no longer current.
type DefinitionCache interface {
	Get(ctx context.Context, workflowID string) (*models.Workflow, bool, error)
	Generation(ctx context.Context, workflowID string) (int64, error)
	Set(ctx context.Context, workflow *models.Workflow, generation int64) error
	Invalidate(ctx context.Context, workflowID string) error
}

// graphs loads workflow graphs, going through the cache when one is configured.
// Cache failures are logged and never fail the caller.
type graphs struct {
	persistence persistence.Persistence
	cache       DefinitionCache
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func (g *graphs) load(ctx context.Context, workflowID string) (*models.Workflow, error) {
	var (
		generation int64
		fill       bool
	)

	if g.cache != nil {
		cached, ok, err := g.cache.Get(ctx, workflowID)
		if err != nil {
			g.logger.WarnContext(ctx, "definition cache read failed", "workflow_id", workflowID, "error", err)
		}

		g.metrics.CacheLookup(ok)

		if ok {
			return cached, nil
		}

		generation, err = g.cache.Generation(ctx, workflowID)
		if err != nil {
			g.logger.WarnContext(ctx, "definition cache generation unavailable", "workflow_id", workflowID, "error", err)
		}

		fill = err == nil
	}

	repo := g.persistence.WorkflowRepository()

	workflow, err := repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.Steps, err = repo.ListSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.Transitions, err = repo.ListTransitions(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if fill {
		err = g.cache.Set(ctx, workflow, generation)
		if err != nil {
			g.logger.WarnContext(ctx, "definition cache write failed", "workflow_id", workflowID, "error", err)
		}
	}

	return workflow, nil
}

func (g *graphs) invalidate(ctx context.Context, workflowID string) {
	if g.cache == nil {
		return
	}

	err := g.cache.Invalidate(ctx, workflowID)
	if err != nil {
		g.logger.ErrorContext(ctx, "definition cache invalidation failed", "workflow_id", workflowID, "error", err)
	}
}
