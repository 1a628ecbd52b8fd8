// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/pipecrm/wfm/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses) unless noted.
var (
	// ErrNotFound wraps any missing workflow, step, project or entity (404 Not Found).
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates a malformed request or a rejected definition change (400 Bad Request).
	ErrValidation = errors.New("validation failed")

	// ErrInvalidReference indicates a step or transition pointing outside its workflow,
	// or an unknown status or project type (400 Bad Request).
	ErrInvalidReference = errors.New("invalid reference")

	// ErrInvalidTransition indicates no transition connects the current step to the target (422 Unprocessable Entity).
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrForbidden indicates the actor may not progress the entity (403 Forbidden).
	ErrForbidden = errors.New("forbidden")

	// Business Logic Conflicts (409 Conflict).
	ErrConcurrentModification = persistence.ErrConcurrentModification
	ErrStepInUse              = persistence.ErrStepInUse
	ErrDuplicate              = persistence.ErrDuplicate

	// ErrConfiguration indicates a broken workflow definition, such as zero or several initial steps.
	// It is a server-side problem (500 Internal Server Error) the caller cannot fix.
	ErrConfiguration = errors.New("workflow configuration error")
)

// Error codes returned in API responses.
const (
	CodeNotFound               = "not_found"
	CodeValidation             = "validation_error"
	CodeInvalidReference       = "invalid_reference"
	CodeInvalidTransition      = "invalid_transition"
	CodeForbidden              = "forbidden"
	CodeConcurrentModification = "concurrent_modification"
	CodeStepInUse              = "step_in_use"
	CodeDuplicate              = "duplicate"
	CodeConfiguration          = "configuration_error"
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// ErrorCode is the API error code, also recorded on failed spans.
func (e *ServiceError) ErrorCode() string {
	return e.Code
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNotFound checks if an error should return HTTP 404.
// A missing record referenced from a request body is an invalid reference, not a missing resource.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrInvalidReference) {
		return false
	}

	return errors.Is(err, ErrNotFound) || persistence.IsNotFound(err)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidReference)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrStepInUse) ||
		errors.Is(err, ErrDuplicate)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, message string, err error) *ServiceError {
	if err == nil {
		err = ErrValidation
	} else if !errors.Is(err, ErrValidation) {
		err = fmt.Errorf("%w: %w", ErrValidation, err)
	}

	return &ServiceError{
		Op:      op,
		Code:    CodeValidation,
		Message: message,
		Err:     err,
	}
}

func newNotFoundError(op string, err error) *ServiceError {
	if !errors.Is(err, ErrNotFound) {
		err = fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	return &ServiceError{Op: op, Code: CodeNotFound, Err: err}
}

func newInvalidReferenceError(op, message string, err error) *ServiceError {
	if err == nil {
		err = ErrInvalidReference
	} else {
		err = fmt.Errorf("%w: %w", ErrInvalidReference, err)
	}

	return &ServiceError{Op: op, Code: CodeInvalidReference, Message: message, Err: err}
}

func newConfigurationError(op, message string) *ServiceError {
	return &ServiceError{Op: op, Code: CodeConfiguration, Message: message, Err: ErrConfiguration}
}

// wrapStoreError classifies a persistence error. Errors it does not recognise are wrapped as-is.
func wrapStoreError(op string, err error) error {
	switch {
	case persistence.IsNotFound(err):
		return newNotFoundError(op, err)
	case persistence.IsConcurrentModification(err):
		return &ServiceError{Op: op, Code: CodeConcurrentModification, Err: err}
	case persistence.IsDuplicate(err):
		return &ServiceError{Op: op, Code: CodeDuplicate, Err: err}
	case errors.Is(err, persistence.ErrStepInUse):
		return &ServiceError{Op: op, Code: CodeStepInUse, Err: err}
	case errors.Is(err, persistence.ErrStepSetMismatch):
		return NewValidationError(op, "step ids must be exactly the workflow's current steps", err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
