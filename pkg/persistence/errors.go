// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrStepNotFound indicates a workflow step was not found.
	ErrStepNotFound = errors.New("step not found")

	// ErrTransitionNotFound indicates a transition was not found.
	ErrTransitionNotFound = errors.New("transition not found")

	// ErrStatusNotFound indicates a step status was not found.
	ErrStatusNotFound = errors.New("status not found")

	// ErrProjectTypeNotFound indicates a project type was not found.
	ErrProjectTypeNotFound = errors.New("project type not found")

	// ErrProjectNotFound indicates a project was not found.
	ErrProjectNotFound = errors.New("project not found")

	// ErrLeadNotFound indicates a lead was not found.
	ErrLeadNotFound = errors.New("lead not found")

	// ErrDealNotFound indicates a deal was not found.
	ErrDealNotFound = errors.New("deal not found")

	// ErrConcurrentModification indicates a conditional write affected zero rows.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrStepSetMismatch indicates a reorder request did not name exactly the workflow's steps.
	ErrStepSetMismatch = errors.New("step set mismatch")

	// ErrDuplicate indicates a unique constraint rejected the write.
	ErrDuplicate = errors.New("duplicate record")

	// ErrStepInUse indicates a step could not be deleted because a project still references it.
	ErrStepInUse = errors.New("step is the current step of at least one project")
)

// ProjectError wraps project-related errors with additional context.
type ProjectError struct {
	Op        string // Operation being performed (e.g., "UpdateCurrentStep")
	ProjectID string
	Err       error
}

func (e *ProjectError) Error() string {
	return fmt.Sprintf("%s operation failed for project %s: %v", e.Op, e.ProjectID, e.Err)
}

func (e *ProjectError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for project errors.
func (e *ProjectError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewProjectError creates a new project error with context.
func NewProjectError(op, projectID string, err error) *ProjectError {
	return &ProjectError{
		Op:        op,
		ProjectID: projectID,
		Err:       err,
	}
}

// WorkflowError wraps workflow definition errors with additional context.
type WorkflowError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// IsNotFound checks if an error indicates any record was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrStepNotFound) ||
		errors.Is(err, ErrTransitionNotFound) ||
		errors.Is(err, ErrStatusNotFound) ||
		errors.Is(err, ErrProjectTypeNotFound) ||
		errors.Is(err, ErrProjectNotFound) ||
		errors.Is(err, ErrLeadNotFound) ||
		errors.Is(err, ErrDealNotFound)
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsConcurrentModification checks if a conditional write lost a race.
func IsConcurrentModification(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsDuplicate checks if a unique constraint rejected the write.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
