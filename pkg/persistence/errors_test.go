package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pipecrm/wfm/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("not found family is recognised", func(t *testing.T) {
		for _, err := range []error{
			persistence.ErrWorkflowNotFound,
			persistence.ErrStepNotFound,
			persistence.ErrTransitionNotFound,
			persistence.ErrStatusNotFound,
			persistence.ErrProjectTypeNotFound,
			persistence.ErrProjectNotFound,
			persistence.ErrLeadNotFound,
			persistence.ErrDealNotFound,
		} {
			assert.True(t, persistence.IsNotFound(fmt.Errorf("wrapped: %w", err)), err.Error())
		}

		assert.False(t, persistence.IsNotFound(persistence.ErrConcurrentModification))
	})

	t.Run("project error unwraps", func(t *testing.T) {
		err := persistence.NewProjectError("UpdateCurrentStep", "project-123", persistence.ErrConcurrentModification)

		assert.True(t, persistence.IsConcurrentModification(err))
		assert.True(t, errors.Is(err, persistence.ErrConcurrentModification))
		assert.Contains(t, err.Error(), "UpdateCurrentStep")
		assert.Contains(t, err.Error(), "project-123")
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("ReorderSteps", "workflow-123", persistence.ErrStepSetMismatch)

		assert.Contains(t, err.Error(), "ReorderSteps")
		assert.Contains(t, err.Error(), "workflow-123")
		assert.True(t, errors.Is(err, persistence.ErrStepSetMismatch))
		assert.False(t, persistence.IsWorkflowNotFound(err))
	})
}
