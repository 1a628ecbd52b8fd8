package models

import "time"

// Project is a running instance of a workflow bound to one business entity.
// WorkflowID never changes after creation; CurrentStepID always references a step of WorkflowID.
type Project struct {
	ID            string    `json:"id"`
	WorkflowID    string    `json:"workflow_id"`
	ProjectTypeID string    `json:"project_type_id"`
	CurrentStepID string    `json:"current_step_id"`
	Name          string    `json:"name"`
	CreatedBy     string    `json:"created_by"`
	UpdatedBy     string    `json:"updated_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	CurrentStep *Step `json:"current_step,omitempty"`
}

// ProjectType is a category of project supplying a default workflow at creation time.
type ProjectType struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"                validate:"required"`
	Description       string    `json:"description"`
	DefaultWorkflowID string    `json:"default_workflow_id"`
	IconName          string    `json:"icon_name"`
	IsArchived        bool      `json:"is_archived"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Well-known project type names seeded for the built-in entity kinds.
const (
	ProjectTypeLeadQualification = "Lead Qualification"
	ProjectTypeSalesDeal         = "Sales Deal"
)
