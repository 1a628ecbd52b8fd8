// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/google/uuid"
	"github.com/pipecrm/wfm/pkg/models"
)

// CreateTestStatus creates a test Status with default values that can be overridden.
func CreateTestStatus(overrides ...func(*models.Status)) *models.Status {
	status := &models.Status{
		Name:      "Status " + uuid.NewString()[:8],
		Color:     "#3366ff",
		CreatedBy: "test-user",
	}

	for _, override := range overrides {
		override(status)
	}

	return status
}

// CreateTestWorkflow creates a test Workflow without steps.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		Name:        "Workflow " + uuid.NewString()[:8],
		Description: "A test workflow",
		CreatedBy:   "test-user",
		UpdatedBy:   "test-user",
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithWorkflowName sets the workflow name.
func WithWorkflowName(name string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Name = name
	}
}

// CreateTestStep creates a test Step for the given workflow and status.
func CreateTestStep(workflowID, statusID string, order int, overrides ...func(*models.Step)) *models.Step {
	step := &models.Step{
		WorkflowID: workflowID,
		StatusID:   statusID,
		StepOrder:  order,
		Metadata:   models.StepMetadata{},
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithInitialStep flags the step as the workflow entry point.
func WithInitialStep() func(*models.Step) {
	return func(s *models.Step) {
		s.IsInitialStep = true
	}
}

// WithFinalStep flags the step as terminal.
func WithFinalStep() func(*models.Step) {
	return func(s *models.Step) {
		s.IsFinalStep = true
	}
}

// WithMetadata sets the step metadata.
func WithMetadata(metadata models.StepMetadata) func(*models.Step) {
	return func(s *models.Step) {
		s.Metadata = metadata
	}
}

// CreateTestLead creates a test Lead owned by the given user.
func CreateTestLead(createdBy string, overrides ...func(*models.Lead)) *models.Lead {
	lead := &models.Lead{
		Name:         "Acme Corp",
		ContactName:  "Jane Doe",
		ContactEmail: "jane@acme.test",
		Source:       "web",
		CreatedBy:    createdBy,
	}

	for _, override := range overrides {
		override(lead)
	}

	return lead
}

// CreateTestDeal creates a test Deal owned by the given user.
func CreateTestDeal(createdBy string, overrides ...func(*models.Deal)) *models.Deal {
	deal := &models.Deal{
		Name:      "Acme renewal",
		Amount:    12000,
		Currency:  "USD",
		CreatedBy: createdBy,
	}

	for _, override := range overrides {
		override(deal)
	}

	return deal
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}
