// Package cache holds read-through caches for WFM definitions.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pipecrm/wfm/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a cached graph can outlive a missed invalidation.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "wfm:workflow:"

// WorkflowGraphs caches a workflow together with its steps and transitions in Redis.
type WorkflowGraphs struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewWorkflowGraphs(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *WorkflowGraphs {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &WorkflowGraphs{
		client: client,
		ttl:    ttl,
		logger: logger.With("module", "workflow_cache"),
	}
}

var errStaleGeneration = errors.New("workflow graph generation changed")

// Key returns the Redis key a workflow graph is stored under.
func Key(workflowID string) string {
	return keyPrefix + workflowID + ":graph"
}

// GenerationKey returns the Redis key of a workflow's invalidation counter.
func GenerationKey(workflowID string) string {
	return keyPrefix + workflowID + ":generation"
}

// Get returns the cached graph. A miss is reported as (nil, false, nil).
func (c *WorkflowGraphs) Get(ctx context.Context, workflowID string) (*models.Workflow, bool, error) {
	data, err := c.client.Get(ctx, Key(workflowID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to read cached workflow %s: %w", workflowID, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(data, &workflow)
	if err != nil {
		c.logger.WarnContext(ctx, "dropping undecodable cache entry", "workflow_id", workflowID, "error", err)
		_ = c.client.Del(ctx, Key(workflowID)).Err()

		return nil, false, nil
	}

	return &workflow, true, nil
}

// Generation returns the workflow's invalidation counter. Read it before loading the graph from the store
// and hand it to Set.
func (c *WorkflowGraphs) Generation(ctx context.Context, workflowID string) (int64, error) {
	generation, err := c.client.Get(ctx, GenerationKey(workflowID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to read generation of workflow %s: %w", workflowID, err)
	}

	return generation, nil
}

// Set stores the graph only while the workflow is still at generation. A graph loaded before an
// invalidation is dropped instead of overwriting the newer state.
func (c *WorkflowGraphs) Set(ctx context.Context, workflow *models.Workflow, generation int64) error {
	data, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	generationKey := GenerationKey(workflow.ID)

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, generationKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		if current != generation {
			return errStaleGeneration
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, Key(workflow.ID), data, c.ttl)

			return nil
		})

		return err
	}, generationKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		c.logger.DebugContext(ctx, "skipping stale workflow graph", "workflow_id", workflow.ID, "generation", generation)

		return nil
	default:
		return fmt.Errorf("failed to cache workflow %s: %w", workflow.ID, err)
	}
}

// Invalidate drops the cached graph and bumps the generation in one transaction.
func (c *WorkflowGraphs) Invalidate(ctx context.Context, workflowID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, GenerationKey(workflowID))
		pipe.Del(ctx, Key(workflowID))

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate workflow %s: %w", workflowID, err)
	}

	c.logger.DebugContext(ctx, "workflow graph invalidated", "workflow_id", workflowID)

	return nil
}
