package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/persistence"
)

// WorkflowRepository handles workflow, step and transition database operations.
type WorkflowRepository struct {
	repo
}

const workflowColumns = `
	id
  , name
  , description
  , is_archived
  , created_by
  , updated_by
  , created_at
  , updated_at
`

// ListWorkflows returns workflows ordered by name.
func (r *WorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM wfm_workflows`
	if !opts.IncludeArchived {
		query += ` WHERE is_archived = FALSE`
	}

	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer r.closeRows(ctx, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// GetByID returns a workflow without its graph.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+workflowColumns+` FROM wfm_workflows WHERE id = $1`), id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// GetByName returns a workflow by its unique name.
func (r *WorkflowRepository) GetByName(ctx context.Context, name string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+workflowColumns+` FROM wfm_workflows WHERE name = $1`), name)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByName", name, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// Save upserts the workflow base row. Steps and transitions are saved separately.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	at := now()

	if workflow.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		workflow.ID = id
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = at
	}

	workflow.UpdatedAt = at

	query := `
		INSERT INTO wfm_workflows (id, name, description, is_archived, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			is_archived = EXCLUDED.is_archived,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.q(query),
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.IsArchived,
		workflow.CreatedBy,
		workflow.UpdatedBy,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return r.uniqueErr(err, "failed to save workflow")
	}

	return nil
}

const stepColumns = `
	id
  , workflow_id
  , status_id
  , step_order
  , is_initial_step
  , is_final_step
  , metadata
  , created_at
  , updated_at
`

// ListSteps returns the workflow's steps ordered by step_order.
func (r *WorkflowRepository) ListSteps(ctx context.Context, workflowID string) ([]*models.Step, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT `+stepColumns+` FROM wfm_steps WHERE workflow_id = $1 ORDER BY step_order`), workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow steps: %w", err)
	}

	defer r.closeRows(ctx, rows)

	steps := make([]*models.Step, 0)

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		steps = append(steps, step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

// GetStep returns a single step.
func (r *WorkflowRepository) GetStep(ctx context.Context, stepID string) (*models.Step, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+stepColumns+` FROM wfm_steps WHERE id = $1`), stepID)

	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("step %s: %w", stepID, persistence.ErrStepNotFound)
		}

		return nil, fmt.Errorf("failed to scan step: %w", err)
	}

	return step, nil
}

// SaveStep upserts a step. The owning workflow of an existing step never changes.
func (r *WorkflowRepository) SaveStep(ctx context.Context, step *models.Step) error {
	at := now()

	if step.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		step.ID = id
	}

	if step.CreatedAt.IsZero() {
		step.CreatedAt = at
	}

	step.UpdatedAt = at

	if step.Metadata == nil {
		step.Metadata = models.StepMetadata{}
	}

	metadataJSON, err := marshalJSON(step.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal step metadata: %w", err)
	}

	query := `
		INSERT INTO wfm_steps (id, workflow_id, status_id, step_order, is_initial_step, is_final_step, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status_id = EXCLUDED.status_id,
			step_order = EXCLUDED.step_order,
			is_initial_step = EXCLUDED.is_initial_step,
			is_final_step = EXCLUDED.is_final_step,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.q(query),
		step.ID,
		step.WorkflowID,
		step.StatusID,
		step.StepOrder,
		step.IsInitialStep,
		step.IsFinalStep,
		metadataJSON,
		step.CreatedAt,
		step.UpdatedAt,
	)
	if err != nil {
		return r.uniqueErr(err, "failed to save step")
	}

	return nil
}

// DeleteStep removes a step; its transitions go with it through the foreign key cascade.
func (r *WorkflowRepository) DeleteStep(ctx context.Context, stepID string) error {
	result, err := r.db.ExecContext(ctx, r.q(`DELETE FROM wfm_steps WHERE id = $1`), stepID)
	if r.dialect.ForeignKeyViolation(err) {
		return fmt.Errorf("step %s: %w", stepID, persistence.ErrStepInUse)
	}

	if err != nil {
		return fmt.Errorf("failed to delete step: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("step %s: %w", stepID, persistence.ErrStepNotFound)
	}

	return nil
}

// NextStepOrder returns the order a newly appended step should take.
func (r *WorkflowRepository) NextStepOrder(ctx context.Context, workflowID string) (int, error) {
	var maxOrder int

	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT COALESCE(MAX(step_order), 0) FROM wfm_steps WHERE workflow_id = $1`), workflowID).Scan(&maxOrder)
	if err != nil {
		return 0, fmt.Errorf("failed to query step order: %w", err)
	}

	return maxOrder + 1, nil
}

// ReorderSteps rewrites step_order in one transaction. All rows are first shifted above the current maximum,
// so the (workflow_id, step_order) unique index never sees two steps sharing an order.
func (r *WorkflowRepository) ReorderSteps(ctx context.Context, workflowID string, orderedStepIDs []string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, r.q(`SELECT id, step_order FROM wfm_steps WHERE workflow_id = $1`), workflowID)
		if err != nil {
			return fmt.Errorf("failed to query workflow steps: %w", err)
		}

		current := make(map[string]struct{})
		maxOrder := 0

		for rows.Next() {
			var (
				id    string
				order int
			)

			err := rows.Scan(&id, &order)
			if err != nil {
				r.closeRows(ctx, rows)

				return fmt.Errorf("failed to scan step: %w", err)
			}

			current[id] = struct{}{}
			maxOrder = max(maxOrder, order)
		}

		r.closeRows(ctx, rows)

		err = rows.Err()
		if err != nil {
			return fmt.Errorf("error iterating steps: %w", err)
		}

		if !sameStepSet(current, orderedStepIDs) {
			return persistence.NewWorkflowError("ReorderSteps", workflowID, persistence.ErrStepSetMismatch)
		}

		_, err = tx.ExecContext(ctx,
			r.q(`UPDATE wfm_steps SET step_order = step_order + $1 WHERE workflow_id = $2`), maxOrder, workflowID)
		if err != nil {
			return fmt.Errorf("failed to shift step order: %w", err)
		}

		at := now()

		for i, stepID := range orderedStepIDs {
			_, err = tx.ExecContext(ctx,
				r.q(`UPDATE wfm_steps SET step_order = $1, updated_at = $2 WHERE id = $3 AND workflow_id = $4`),
				i+1, at, stepID, workflowID)
			if err != nil {
				return fmt.Errorf("failed to set step order: %w", err)
			}
		}

		return nil
	})
}

func sameStepSet(current map[string]struct{}, ordered []string) bool {
	if len(current) != len(ordered) {
		return false
	}

	seen := make(map[string]struct{}, len(ordered))

	for _, id := range ordered {
		if _, ok := current[id]; !ok {
			return false
		}

		if _, dup := seen[id]; dup {
			return false
		}

		seen[id] = struct{}{}
	}

	return true
}

// ListTransitions returns all transitions of a workflow.
func (r *WorkflowRepository) ListTransitions(ctx context.Context, workflowID string) ([]*models.Transition, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, workflow_id, from_step_id, to_step_id, name, created_at
		FROM wfm_transitions
		WHERE workflow_id = $1
		ORDER BY created_at, id
	`), workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow transitions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	transitions := make([]*models.Transition, 0)

	for rows.Next() {
		transition, err := scanTransition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}

		transitions = append(transitions, transition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}

	return transitions, nil
}

// GetTransition returns a single transition.
func (r *WorkflowRepository) GetTransition(ctx context.Context, transitionID string) (*models.Transition, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT id, workflow_id, from_step_id, to_step_id, name, created_at
		FROM wfm_transitions
		WHERE id = $1
	`), transitionID)

	transition, err := scanTransition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transition %s: %w", transitionID, persistence.ErrTransitionNotFound)
		}

		return nil, fmt.Errorf("failed to scan transition: %w", err)
	}

	return transition, nil
}

// SaveTransition inserts a transition. A second edge between the same steps is rejected with ErrDuplicate.
func (r *WorkflowRepository) SaveTransition(ctx context.Context, transition *models.Transition) error {
	if transition.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		transition.ID = id
	}

	if transition.CreatedAt.IsZero() {
		transition.CreatedAt = now()
	}

	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO wfm_transitions (id, workflow_id, from_step_id, to_step_id, name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`),
		transition.ID,
		transition.WorkflowID,
		transition.FromStepID,
		transition.ToStepID,
		transition.Name,
		transition.CreatedAt,
	)
	if err != nil {
		return r.uniqueErr(err, "failed to save transition")
	}

	return nil
}

// DeleteTransition removes a transition.
func (r *WorkflowRepository) DeleteTransition(ctx context.Context, transitionID string) error {
	result, err := r.db.ExecContext(ctx, r.q(`DELETE FROM wfm_transitions WHERE id = $1`), transitionID)
	if err != nil {
		return fmt.Errorf("failed to delete transition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("transition %s: %w", transitionID, persistence.ErrTransitionNotFound)
	}

	return nil
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var workflow models.Workflow

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.IsArchived,
		&workflow.CreatedBy,
		&workflow.UpdatedBy,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}

func scanStep(row scanner) (*models.Step, error) {
	var (
		step         models.Step
		metadataJSON []byte
	)

	err := row.Scan(
		&step.ID,
		&step.WorkflowID,
		&step.StatusID,
		&step.StepOrder,
		&step.IsInitialStep,
		&step.IsFinalStep,
		&metadataJSON,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	step.Metadata, err = unmarshalJSON[models.StepMetadata](metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal step metadata: %w", err)
	}

	if step.Metadata == nil {
		step.Metadata = models.StepMetadata{}
	}

	return &step, nil
}

func scanTransition(row scanner) (*models.Transition, error) {
	var transition models.Transition

	err := row.Scan(
		&transition.ID,
		&transition.WorkflowID,
		&transition.FromStepID,
		&transition.ToStepID,
		&transition.Name,
		&transition.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &transition, nil
}
