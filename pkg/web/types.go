// Package web provides HTTP request and response types for the WFM API.
package web

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/pipecrm/wfm/pkg/models"
)

// Actor headers set by the authenticating gateway in front of the API.
const (
	UserIDHeader      = "X-User-ID"
	PermissionsHeader = "X-User-Permissions"
)

// actorFrom reads the caller from the request headers. Permissions are comma-separated.
func actorFrom(c fiber.Ctx) models.Actor {
	actor := models.Actor{UserID: strings.TrimSpace(c.Get(UserIDHeader))}

	for _, permission := range strings.Split(c.Get(PermissionsHeader), ",") {
		permission = strings.TrimSpace(permission)
		if permission != "" {
			actor.Permissions = append(actor.Permissions, permission)
		}
	}

	return actor
}

// CreateStatusRequest represents the request body for creating a step status.
type CreateStatusRequest struct {
	Name        string `json:"name"        validate:"required"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// UpdateStatusRequest represents the request body for updating a step status.
// All fields are optional to support partial updates.
type UpdateStatusRequest struct {
	Name        *string `json:"name,omitempty"        validate:"omitempty,min=1"`
	Color       *string `json:"color,omitempty"`
	Description *string `json:"description,omitempty"`
	IsArchived  *bool   `json:"is_archived,omitempty"`
}

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name        string `json:"name"        validate:"required,min=3"`
	Description string `json:"description"`
}

// UpdateWorkflowRequest represents the request body for updating an existing workflow.
// Setting is_archived retires the workflow for new projects.
type UpdateWorkflowRequest struct {
	Name        *string `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string `json:"description,omitempty"`
	IsArchived  *bool   `json:"is_archived,omitempty"`
}

// CreateStepRequest represents the request body for adding a step. A missing step_order appends the step.
type CreateStepRequest struct {
	StatusID      string              `json:"status_id"       validate:"required"`
	StepOrder     int                 `json:"step_order"      validate:"omitempty,min=1"`
	IsInitialStep bool                `json:"is_initial_step"`
	IsFinalStep   bool                `json:"is_final_step"`
	Metadata      models.StepMetadata `json:"metadata,omitempty"`
}

// UpdateStepRequest represents the request body for updating a step. A present metadata object replaces the old one.
type UpdateStepRequest struct {
	StatusID      *string             `json:"status_id,omitempty"`
	IsInitialStep *bool               `json:"is_initial_step,omitempty"`
	IsFinalStep   *bool               `json:"is_final_step,omitempty"`
	Metadata      models.StepMetadata `json:"metadata,omitempty"`
}

// ReorderStepsRequest lists every step of the workflow in its new order.
type ReorderStepsRequest struct {
	StepIDs []string `json:"step_ids" validate:"required,dive,required"`
}

// CreateTransitionRequest represents the request body for adding a named transition.
type CreateTransitionRequest struct {
	FromStepID string `json:"from_step_id" validate:"required"`
	ToStepID   string `json:"to_step_id"   validate:"required"`
	Name       string `json:"name"         validate:"required"`
}

// CreateProjectTypeRequest represents the request body for creating a project type.
type CreateProjectTypeRequest struct {
	Name              string `json:"name"                validate:"required"`
	Description       string `json:"description"`
	DefaultWorkflowID string `json:"default_workflow_id"`
	IconName          string `json:"icon_name"`
}

// UpdateProjectTypeRequest represents the request body for updating a project type.
type UpdateProjectTypeRequest struct {
	Name              *string `json:"name,omitempty"                validate:"omitempty,min=1"`
	Description       *string `json:"description,omitempty"`
	DefaultWorkflowID *string `json:"default_workflow_id,omitempty"`
	IconName          *string `json:"icon_name,omitempty"`
	IsArchived        *bool   `json:"is_archived,omitempty"`
}

// CreateLeadRequest represents the request body for creating a lead. The lead's project runs on
// workflow_id when given, otherwise on the default workflow of the lead qualification project type.
type CreateLeadRequest struct {
	Name             string `json:"name"                validate:"required"`
	ContactName      string `json:"contact_name"`
	ContactEmail     string `json:"contact_email"       validate:"omitempty,email"`
	Source           string `json:"source"`
	AssignedToUserID string `json:"assigned_to_user_id"`
	WorkflowID       string `json:"workflow_id"`
}

// UpdateLeadRequest represents the request body for updating a lead. Qualification fields
// follow the lead's workflow step and cannot be set directly.
type UpdateLeadRequest struct {
	Name             *string `json:"name,omitempty"                validate:"omitempty,min=1"`
	ContactName      *string `json:"contact_name,omitempty"`
	ContactEmail     *string `json:"contact_email,omitempty"       validate:"omitempty,email"`
	Source           *string `json:"source,omitempty"`
	AssignedToUserID *string `json:"assigned_to_user_id,omitempty"`
}

func (r UpdateLeadRequest) apply(lead *models.Lead) {
	setIf(&lead.Name, r.Name)
	setIf(&lead.ContactName, r.ContactName)
	setIf(&lead.ContactEmail, r.ContactEmail)
	setIf(&lead.Source, r.Source)
	setIf(&lead.AssignedToUserID, r.AssignedToUserID)
}

// CreateDealRequest represents the request body for creating a deal.
type CreateDealRequest struct {
	Name                    string     `json:"name"                                validate:"required"`
	Amount                  float64    `json:"amount"                              validate:"min=0"`
	Currency                string     `json:"currency"                            validate:"omitempty,len=3"`
	ExpectedCloseDate       *time.Time `json:"expected_close_date,omitempty"`
	AssignedToUserID        string     `json:"assigned_to_user_id"`
	DealSpecificProbability *float64   `json:"deal_specific_probability,omitempty" validate:"omitempty,min=0,max=1"`
	WorkflowID              string     `json:"workflow_id"`
}

// UpdateDealRequest represents the request body for updating a deal. step_probability follows the
// deal's workflow step; deal_specific_probability is the user override.
type UpdateDealRequest struct {
	Name                    *string    `json:"name,omitempty"                      validate:"omitempty,min=1"`
	Amount                  *float64   `json:"amount,omitempty"                    validate:"omitempty,min=0"`
	Currency                *string    `json:"currency,omitempty"                  validate:"omitempty,len=3"`
	ExpectedCloseDate       *time.Time `json:"expected_close_date,omitempty"`
	AssignedToUserID        *string    `json:"assigned_to_user_id,omitempty"`
	DealSpecificProbability *float64   `json:"deal_specific_probability,omitempty" validate:"omitempty,min=0,max=1"`
}

func (r UpdateDealRequest) apply(deal *models.Deal) {
	setIf(&deal.Name, r.Name)
	setIf(&deal.Amount, r.Amount)
	setIf(&deal.Currency, r.Currency)
	setIf(&deal.AssignedToUserID, r.AssignedToUserID)

	if r.ExpectedCloseDate != nil {
		deal.ExpectedCloseDate = r.ExpectedCloseDate
	}

	if r.DealSpecificProbability != nil {
		deal.DealSpecificProbability = r.DealSpecificProbability
	}
}

// ProgressRequest moves an entity's WFM project to another step.
type ProgressRequest struct {
	TargetStepID string `json:"targetStepId" validate:"required"`
}

// DealResponse adds the effective probability to a deal.
type DealResponse struct {
	*models.Deal

	EffectiveProbability *float64 `json:"effective_probability,omitempty"`
}

func newDealResponse(deal *models.Deal) DealResponse {
	return DealResponse{Deal: deal, EffectiveProbability: deal.EffectiveProbability()}
}

func setIf[T any](field *T, value *T) {
	if value != nil {
		*field = *value
	}
}
