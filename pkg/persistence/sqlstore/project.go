package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/persistence"
)

// ProjectRepository handles WFM project database operations.
type ProjectRepository struct {
	repo
}

const projectColumns = `
	p.id
  , p.workflow_id
  , p.project_type_id
  , p.current_step_id
  , p.name
  , p.created_by
  , p.updated_by
  , p.created_at
  , p.updated_at
`

// Create inserts a new project.
func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	at := now()

	if project.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		project.ID = id
	}

	project.CreatedAt = at
	project.UpdatedAt = at

	if project.UpdatedBy == "" {
		project.UpdatedBy = project.CreatedBy
	}

	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO wfm_projects (id, workflow_id, project_type_id, current_step_id, name, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`),
		project.ID,
		project.WorkflowID,
		nullString(project.ProjectTypeID),
		project.CurrentStepID,
		project.Name,
		project.CreatedBy,
		project.UpdatedBy,
		project.CreatedAt,
		project.UpdatedAt,
	)
	if err != nil {
		return persistence.NewProjectError("Create", project.ID, r.uniqueErr(err, "failed to insert project"))
	}

	return nil
}

// GetByID returns a project.
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+projectColumns+` FROM wfm_projects p WHERE p.id = $1`), id)

	project, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewProjectError("GetByID", id, persistence.ErrProjectNotFound)
		}

		return nil, fmt.Errorf("failed to scan project: %w", err)
	}

	return project, nil
}

// UpdateCurrentStep performs the compare-and-set on current_step_id.
func (r *ProjectRepository) UpdateCurrentStep(ctx context.Context, change persistence.StepChange) error {
	at := change.At
	if at.IsZero() {
		at = now()
	}

	result, err := r.db.ExecContext(ctx, r.q(`
		UPDATE wfm_projects
		SET current_step_id = $1, updated_by = $2, updated_at = $3
		WHERE id = $4 AND current_step_id = $5
	`),
		change.NewStepID,
		change.ActorUserID,
		at,
		change.ProjectID,
		change.ExpectedStepID,
	)
	if err != nil {
		return persistence.NewProjectError("UpdateCurrentStep", change.ProjectID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewProjectError("UpdateCurrentStep", change.ProjectID, persistence.ErrConcurrentModification)
	}

	return nil
}

// CountAtStep counts projects currently sitting at the step.
func (r *ProjectRepository) CountAtStep(ctx context.Context, stepID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT COUNT(*) FROM wfm_projects WHERE current_step_id = $1`), stepID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count projects at step: %w", err)
	}

	return count, nil
}

// ListOrphans returns projects that no lead or deal references.
func (r *ProjectRepository) ListOrphans(ctx context.Context, createdBefore time.Time) ([]*models.Project, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT `+projectColumns+`
		FROM wfm_projects p
		WHERE p.created_at < $1
		  AND NOT EXISTS (SELECT 1 FROM leads l WHERE l.wfm_project_id = p.id)
		  AND NOT EXISTS (SELECT 1 FROM deals d WHERE d.wfm_project_id = p.id)
		ORDER BY p.created_at
	`), createdBefore.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query orphan projects: %w", err)
	}

	defer r.closeRows(ctx, rows)

	projects := make([]*models.Project, 0)

	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}

		projects = append(projects, project)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return projects, nil
}

// Delete removes a project. Projects still linked from a lead or deal are protected by the foreign key.
func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	return deleteProject(ctx, r.repo, r.db, id)
}

func deleteProject(ctx context.Context, r repo, ex execer, id string) error {
	result, err := ex.ExecContext(ctx, r.q(`DELETE FROM wfm_projects WHERE id = $1`), id)
	if err != nil {
		return persistence.NewProjectError("Delete", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewProjectError("Delete", id, persistence.ErrProjectNotFound)
	}

	return nil
}

func scanProject(row scanner) (*models.Project, error) {
	var (
		project       models.Project
		projectTypeID sql.NullString
	)

	err := row.Scan(
		&project.ID,
		&project.WorkflowID,
		&projectTypeID,
		&project.CurrentStepID,
		&project.Name,
		&project.CreatedBy,
		&project.UpdatedBy,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	project.ProjectTypeID = projectTypeID.String

	return &project, nil
}
