package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/persistence"
)

// LeadRepository handles lead database operations.
type LeadRepository struct {
	repo
}

const leadColumns = `
	id
  , name
  , contact_name
  , contact_email
  , source
  , created_by
  , assigned_to_user_id
  , wfm_project_id
  , is_qualified
  , qualification_level
  , stage_name
  , created_at
  , updated_at
`

// Create inserts a lead. WFMProjectID must already reference an existing project.
func (r *LeadRepository) Create(ctx context.Context, lead *models.Lead) error {
	at := now()

	if lead.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		lead.ID = id
	}

	lead.CreatedAt = at
	lead.UpdatedAt = at

	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO leads (`+leadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`),
		lead.ID,
		lead.Name,
		lead.ContactName,
		lead.ContactEmail,
		lead.Source,
		lead.CreatedBy,
		lead.AssignedToUserID,
		nullString(lead.WFMProjectID),
		lead.IsQualified,
		lead.QualificationLevel,
		lead.StageName,
		lead.CreatedAt,
		lead.UpdatedAt,
	)
	if err != nil {
		return r.uniqueErr(err, "failed to insert lead")
	}

	return nil
}

// GetByID returns a lead.
func (r *LeadRepository) GetByID(ctx context.Context, id string) (*models.Lead, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+leadColumns+` FROM leads WHERE id = $1`), id)

	var (
		lead         models.Lead
		wfmProjectID sql.NullString
	)

	err := row.Scan(
		&lead.ID,
		&lead.Name,
		&lead.ContactName,
		&lead.ContactEmail,
		&lead.Source,
		&lead.CreatedBy,
		&lead.AssignedToUserID,
		&wfmProjectID,
		&lead.IsQualified,
		&lead.QualificationLevel,
		&lead.StageName,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lead %s: %w", id, persistence.ErrLeadNotFound)
		}

		return nil, fmt.Errorf("failed to scan lead: %w", err)
	}

	lead.WFMProjectID = wfmProjectID.String

	return &lead, nil
}

// Update writes the user-editable lead columns. The project link and the step fields never change here.
func (r *LeadRepository) Update(ctx context.Context, lead *models.Lead) error {
	lead.UpdatedAt = now()

	result, err := r.db.ExecContext(ctx, r.q(`
		UPDATE leads SET
			name = $1,
			contact_name = $2,
			contact_email = $3,
			source = $4,
			assigned_to_user_id = $5,
			updated_at = $6
		WHERE id = $7
	`),
		lead.Name,
		lead.ContactName,
		lead.ContactEmail,
		lead.Source,
		lead.AssignedToUserID,
		lead.UpdatedAt,
		lead.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update lead: %w", err)
	}

	return requireRow(result, fmt.Errorf("lead %s: %w", lead.ID, persistence.ErrLeadNotFound))
}

// ApplyStepFields writes the step-derived columns in one statement guarded by the project's current step,
// so a slower progression can never overwrite the fields of a later one.
func (r *LeadRepository) ApplyStepFields(ctx context.Context, id, stepID string, fields models.LeadStepFields) (bool, error) {
	result, err := r.db.ExecContext(ctx, r.q(`
		UPDATE leads SET
			is_qualified = COALESCE($1, is_qualified),
			qualification_level = COALESCE($2, qualification_level),
			stage_name = COALESCE($3, stage_name),
			updated_at = $4
		WHERE id = $5
		  AND `+onStep("leads")+` = $6
	`),
		fields.IsQualified,
		fields.QualificationLevel,
		fields.StageName,
		now(),
		id,
		stepID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply lead step fields: %w", err)
	}

	return r.appliedOrMissing(ctx, result, "leads", id, persistence.ErrLeadNotFound)
}

// Delete removes the lead and its project together.
func (r *LeadRepository) Delete(ctx context.Context, id string) error {
	return r.deleteWithProject(ctx, "leads", id, persistence.ErrLeadNotFound)
}

// DealRepository handles deal database operations.
type DealRepository struct {
	repo
}

const dealColumns = `
	id
  , name
  , amount
  , currency
  , expected_close_date
  , created_by
  , assigned_to_user_id
  , wfm_project_id
  , deal_specific_probability
  , step_probability
  , stage_name
  , created_at
  , updated_at
`

// Create inserts a deal. WFMProjectID must already reference an existing project.
func (r *DealRepository) Create(ctx context.Context, deal *models.Deal) error {
	at := now()

	if deal.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		deal.ID = id
	}

	deal.CreatedAt = at
	deal.UpdatedAt = at

	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO deals (`+dealColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`),
		deal.ID,
		deal.Name,
		deal.Amount,
		deal.Currency,
		deal.ExpectedCloseDate,
		deal.CreatedBy,
		deal.AssignedToUserID,
		nullString(deal.WFMProjectID),
		deal.DealSpecificProbability,
		deal.StepProbability,
		deal.StageName,
		deal.CreatedAt,
		deal.UpdatedAt,
	)
	if err != nil {
		return r.uniqueErr(err, "failed to insert deal")
	}

	return nil
}

// GetByID returns a deal.
func (r *DealRepository) GetByID(ctx context.Context, id string) (*models.Deal, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+dealColumns+` FROM deals WHERE id = $1`), id)

	var (
		deal                    models.Deal
		expectedCloseDate       sql.NullTime
		wfmProjectID            sql.NullString
		dealSpecificProbability sql.NullFloat64
		stepProbability         sql.NullFloat64
	)

	err := row.Scan(
		&deal.ID,
		&deal.Name,
		&deal.Amount,
		&deal.Currency,
		&expectedCloseDate,
		&deal.CreatedBy,
		&deal.AssignedToUserID,
		&wfmProjectID,
		&dealSpecificProbability,
		&stepProbability,
		&deal.StageName,
		&deal.CreatedAt,
		&deal.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("deal %s: %w", id, persistence.ErrDealNotFound)
		}

		return nil, fmt.Errorf("failed to scan deal: %w", err)
	}

	deal.WFMProjectID = wfmProjectID.String

	if expectedCloseDate.Valid {
		deal.ExpectedCloseDate = &expectedCloseDate.Time
	}

	if dealSpecificProbability.Valid {
		deal.DealSpecificProbability = &dealSpecificProbability.Float64
	}

	if stepProbability.Valid {
		deal.StepProbability = &stepProbability.Float64
	}

	return &deal, nil
}

// Update writes the user-editable deal columns. The project link and the step fields never change here.
func (r *DealRepository) Update(ctx context.Context, deal *models.Deal) error {
	deal.UpdatedAt = now()

	result, err := r.db.ExecContext(ctx, r.q(`
		UPDATE deals SET
			name = $1,
			amount = $2,
			currency = $3,
			expected_close_date = $4,
			assigned_to_user_id = $5,
			deal_specific_probability = $6,
			updated_at = $7
		WHERE id = $8
	`),
		deal.Name,
		deal.Amount,
		deal.Currency,
		deal.ExpectedCloseDate,
		deal.AssignedToUserID,
		deal.DealSpecificProbability,
		deal.UpdatedAt,
		deal.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deal: %w", err)
	}

	return requireRow(result, fmt.Errorf("deal %s: %w", deal.ID, persistence.ErrDealNotFound))
}

// ApplyStepFields writes the step-derived columns while the deal's project is still on stepID.
func (r *DealRepository) ApplyStepFields(ctx context.Context, id, stepID string, fields models.DealStepFields) (bool, error) {
	result, err := r.db.ExecContext(ctx, r.q(`
		UPDATE deals SET
			step_probability = COALESCE($1, step_probability),
			stage_name = COALESCE($2, stage_name),
			updated_at = $3
		WHERE id = $4
		  AND `+onStep("deals")+` = $5
	`),
		fields.StepProbability,
		fields.StageName,
		now(),
		id,
		stepID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply deal step fields: %w", err)
	}

	return r.appliedOrMissing(ctx, result, "deals", id, persistence.ErrDealNotFound)
}

// Delete removes the deal and its project together.
func (r *DealRepository) Delete(ctx context.Context, id string) error {
	return r.deleteWithProject(ctx, "deals", id, persistence.ErrDealNotFound)
}

// deleteWithProject deletes an entity row first, then the project it pointed at, in one transaction.
func (r repo) deleteWithProject(ctx context.Context, table, id string, notFound error) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var projectID sql.NullString

		err := tx.QueryRowContext(ctx, r.q(`SELECT wfm_project_id FROM `+table+` WHERE id = $1`), id).Scan(&projectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%s %s: %w", table, id, notFound)
			}

			return fmt.Errorf("failed to load %s: %w", table, err)
		}

		_, err = tx.ExecContext(ctx, r.q(`DELETE FROM `+table+` WHERE id = $1`), id)
		if err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}

		if !projectID.Valid {
			return nil
		}

		err = deleteProject(ctx, r, tx, projectID.String)
		if err != nil && !errors.Is(err, persistence.ErrProjectNotFound) {
			return err
		}

		return nil
	})
}

// onStep is the current step of the project an entity row links to.
func onStep(table string) string {
	return `(SELECT p.current_step_id FROM wfm_projects p WHERE p.id = ` + table + `.wfm_project_id)`
}

// appliedOrMissing separates a guarded update that lost to a newer step change from one whose entity is gone.
func (r repo) appliedOrMissing(ctx context.Context, result sql.Result, table, id string, notFound error) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		return true, nil
	}

	var count int

	err = r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM `+table+` WHERE id = $1`), id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", table, err)
	}

	if count == 0 {
		return false, fmt.Errorf("%s %s: %w", table, id, notFound)
	}

	return false, nil
}

func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return notFound
	}

	return nil
}
