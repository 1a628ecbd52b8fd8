package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/persistence"
)

// StatusRepository handles the step status catalog.
type StatusRepository struct {
	repo
}

const statusColumns = `id, name, color, description, is_archived, created_by, created_at, updated_at`

// List returns all statuses ordered by name.
func (r *StatusRepository) List(ctx context.Context) ([]*models.Status, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+statusColumns+` FROM wfm_statuses ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query statuses: %w", err)
	}

	defer r.closeRows(ctx, rows)

	statuses := make([]*models.Status, 0)

	for rows.Next() {
		status, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}

		statuses = append(statuses, status)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating statuses: %w", err)
	}

	return statuses, nil
}

func (r *StatusRepository) GetByID(ctx context.Context, id string) (*models.Status, error) {
	return r.get(ctx, "id", id)
}

func (r *StatusRepository) GetByName(ctx context.Context, name string) (*models.Status, error) {
	return r.get(ctx, "name", name)
}

func (r *StatusRepository) get(ctx context.Context, column, value string) (*models.Status, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+statusColumns+` FROM wfm_statuses WHERE `+column+` = $1`), value)

	status, err := scanStatus(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("status %s: %w", value, persistence.ErrStatusNotFound)
		}

		return nil, fmt.Errorf("failed to scan status: %w", err)
	}

	return status, nil
}

// Save upserts a status.
func (r *StatusRepository) Save(ctx context.Context, status *models.Status) error {
	at := now()

	if status.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		status.ID = id
	}

	if status.CreatedAt.IsZero() {
		status.CreatedAt = at
	}

	status.UpdatedAt = at

	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO wfm_statuses (id, name, color, description, is_archived, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			color = EXCLUDED.color,
			description = EXCLUDED.description,
			is_archived = EXCLUDED.is_archived,
			updated_at = EXCLUDED.updated_at
	`),
		status.ID,
		status.Name,
		status.Color,
		status.Description,
		status.IsArchived,
		status.CreatedBy,
		status.CreatedAt,
		status.UpdatedAt,
	)
	if err != nil {
		return r.uniqueErr(err, "failed to save status")
	}

	return nil
}

func scanStatus(row scanner) (*models.Status, error) {
	var status models.Status

	err := row.Scan(
		&status.ID,
		&status.Name,
		&status.Color,
		&status.Description,
		&status.IsArchived,
		&status.CreatedBy,
		&status.CreatedAt,
		&status.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &status, nil
}

// ProjectTypeRepository handles project types.
type ProjectTypeRepository struct {
	repo
}

const projectTypeColumns = `id, name, description, default_workflow_id, icon_name, is_archived, created_at, updated_at`

// List returns all project types ordered by name.
func (r *ProjectTypeRepository) List(ctx context.Context) ([]*models.ProjectType, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+projectTypeColumns+` FROM wfm_project_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query project types: %w", err)
	}

	defer r.closeRows(ctx, rows)

	projectTypes := make([]*models.ProjectType, 0)

	for rows.Next() {
		projectType, err := scanProjectType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project type: %w", err)
		}

		projectTypes = append(projectTypes, projectType)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating project types: %w", err)
	}

	return projectTypes, nil
}

func (r *ProjectTypeRepository) GetByID(ctx context.Context, id string) (*models.ProjectType, error) {
	return r.get(ctx, "id", id)
}

func (r *ProjectTypeRepository) GetByName(ctx context.Context, name string) (*models.ProjectType, error) {
	return r.get(ctx, "name", name)
}

func (r *ProjectTypeRepository) get(ctx context.Context, column, value string) (*models.ProjectType, error) {
	row := r.db.QueryRowContext(ctx,
		r.q(`SELECT `+projectTypeColumns+` FROM wfm_project_types WHERE `+column+` = $1`), value)

	projectType, err := scanProjectType(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project type %s: %w", value, persistence.ErrProjectTypeNotFound)
		}

		return nil, fmt.Errorf("failed to scan project type: %w", err)
	}

	return projectType, nil
}

// Save upserts a project type.
func (r *ProjectTypeRepository) Save(ctx context.Context, projectType *models.ProjectType) error {
	at := now()

	if projectType.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		projectType.ID = id
	}

	if projectType.CreatedAt.IsZero() {
		projectType.CreatedAt = at
	}

	projectType.UpdatedAt = at

	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO wfm_project_types (id, name, description, default_workflow_id, icon_name, is_archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			default_workflow_id = EXCLUDED.default_workflow_id,
			icon_name = EXCLUDED.icon_name,
			is_archived = EXCLUDED.is_archived,
			updated_at = EXCLUDED.updated_at
	`),
		projectType.ID,
		projectType.Name,
		projectType.Description,
		nullString(projectType.DefaultWorkflowID),
		projectType.IconName,
		projectType.IsArchived,
		projectType.CreatedAt,
		projectType.UpdatedAt,
	)
	if err != nil {
		return r.uniqueErr(err, "failed to save project type")
	}

	return nil
}

func scanProjectType(row scanner) (*models.ProjectType, error) {
	var (
		projectType       models.ProjectType
		defaultWorkflowID sql.NullString
	)

	err := row.Scan(
		&projectType.ID,
		&projectType.Name,
		&projectType.Description,
		&defaultWorkflowID,
		&projectType.IconName,
		&projectType.IsArchived,
		&projectType.CreatedAt,
		&projectType.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	projectType.DefaultWorkflowID = defaultWorkflowID.String

	return &projectType, nil
}
