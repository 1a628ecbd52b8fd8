// Package models defines the core domain models for the workflow management (WFM) engine
package models

import "time"

// Workflow is a reusable process definition: an ordered set of steps and the named transitions between them.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"        validate:"required,min=3"`
	Description string    `json:"description"`
	IsArchived  bool      `json:"is_archived"`
	CreatedBy   string    `json:"created_by"`
	UpdatedBy   string    `json:"updated_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Steps and Transitions are only populated when the workflow is loaded with its graph.
	Steps       []*Step       `json:"steps,omitempty"`
	Transitions []*Transition `json:"transitions,omitempty"`
}

// Step is one node of a workflow graph.
type Step struct {
	ID            string       `json:"id"`
	WorkflowID    string       `json:"workflow_id"     validate:"required"`
	StatusID      string       `json:"status_id"       validate:"required"`
	StepOrder     int          `json:"step_order"      validate:"min=1"`
	IsInitialStep bool         `json:"is_initial_step"`
	IsFinalStep   bool         `json:"is_final_step"`
	Metadata      StepMetadata `json:"metadata"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`

	Status *Status `json:"status,omitempty"`
}

// Transition is a named, directed edge between two steps of the same workflow.
type Transition struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"  validate:"required"`
	FromStepID string    `json:"from_step_id" validate:"required"`
	ToStepID   string    `json:"to_step_id"   validate:"required"`
	Name       string    `json:"name"         validate:"required"`
	CreatedAt  time.Time `json:"created_at"`
}

// Status is a shared, colored label referenced by steps.
type Status struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"        validate:"required"`
	Color       string    `json:"color"`
	Description string    `json:"description"`
	IsArchived  bool      `json:"is_archived"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InitialSteps returns the steps flagged as initial.
func (w *Workflow) InitialSteps() []*Step {
	var initial []*Step

	for _, step := range w.Steps {
		if step.IsInitialStep {
			initial = append(initial, step)
		}
	}

	return initial
}

// FindStep returns the step with the given ID if it belongs to the workflow.
func (w *Workflow) FindStep(stepID string) (*Step, bool) {
	for _, step := range w.Steps {
		if step.ID == stepID {
			return step, true
		}
	}

	return nil, false
}
