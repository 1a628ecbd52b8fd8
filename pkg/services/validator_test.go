package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pipecrm/wfm/pkg/mocks"
	"github.com/pipecrm/wfm/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestValidator_Validate(t *testing.T) {
	f := newFixture(t)
	p := f.seedPipeline(t)
	other := f.seedPipeline(t)

	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"defined edge", p.a.ID, p.b.ID, true},
		{"back edge", p.c.ID, p.b.ID, true},
		{"undefined edge", p.a.ID, p.c.ID, false},
		{"no implicit self transition", p.b.ID, p.b.ID, false},
		{"empty from fails closed", "", p.b.ID, false},
		{"target in another workflow", p.a.ID, other.b.ID, false},
		{"source in another workflow", other.a.ID, other.b.ID, false},
		{"unknown step", p.a.ID, "missing", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := f.validator.Validate(f.ctx, p.workflow.ID, tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	_, err := f.validator.Validate(f.ctx, "missing", p.a.ID, p.b.ID)
	assert.True(t, IsNotFound(err))
}

func TestValidator_EditsApplyToLaterCalls(t *testing.T) {
	f := newFixture(t)
	p := f.seedPipeline(t)

	ok, err := f.validator.Validate(f.ctx, p.workflow.ID, p.a.ID, p.c.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	transition, err := f.authoring.CreateTransition(f.ctx, p.workflow.ID, p.a.ID, p.c.ID, "skip")
	require.NoError(t, err)

	ok, err = f.validator.Validate(f.ctx, p.workflow.ID, p.a.ID, p.c.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.authoring.DeleteTransition(f.ctx, p.workflow.ID, transition.ID))

	ok, err = f.validator.Validate(f.ctx, p.workflow.ID, p.a.ID, p.c.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidator_AllowedTargets(t *testing.T) {
	f := newFixture(t)
	p := f.seedPipeline(t)

	targets, err := f.validator.AllowedTargets(f.ctx, p.workflow.ID, p.c.ID)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, p.b.ID, targets[0].ID)

	targets, err = f.validator.AllowedTargets(f.ctx, p.workflow.ID, "")
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestValidator_UsesCache(t *testing.T) {
	cached := &models.Workflow{
		ID:          "wf",
		Steps:       []*models.Step{{ID: "a", WorkflowID: "wf"}, {ID: "b", WorkflowID: "wf"}},
		Transitions: []*models.Transition{{ID: "t", WorkflowID: "wf", FromStepID: "a", ToStepID: "b"}},
	}

	cache := &mocks.MockDefinitionCache{}
	cache.On("Get", mock.Anything, "wf").Return(cached, true, nil)

	f := newFixtureWith(t, nil, cache)

	ok, err := f.validator.Validate(f.ctx, "wf", "a", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	cache.AssertExpectations(t)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestValidator_CacheMissFillsAndErrorsFallBack(t *testing.T) {
	cache := &mocks.MockDefinitionCache{}
	f := newFixtureWith(t, nil, cache)

	cache.On("Invalidate", mock.Anything, mock.Anything).Return(nil)
	p := f.seedPipeline(t)

	cache.On("Get", mock.Anything, p.workflow.ID).Return(nil, false, errors.New("redis down")).Once()
	cache.On("Generation", mock.Anything, p.workflow.ID).Return(int64(7), nil).Once()
	cache.On("Set", mock.Anything, mock.MatchedBy(func(w *models.Workflow) bool {
		return w.ID == p.workflow.ID && len(w.Steps) == 3 && len(w.Transitions) == 3
	}), int64(7)).Return(errors.New("redis down")).Once()

	ok, err := f.validator.Validate(f.ctx, p.workflow.ID, p.a.ID, p.b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	cache.AssertExpectations(t)
}

func TestValidator_SkipsFillWithoutGeneration(t *testing.T) {
	cache := &mocks.MockDefinitionCache{}
	f := newFixtureWith(t, nil, cache)

	cache.On("Invalidate", mock.Anything, mock.Anything).Return(nil)
	p := f.seedPipeline(t)

	cache.On("Get", mock.Anything, p.workflow.ID).Return(nil, false, nil).Once()
	cache.On("Generation", mock.Anything, p.workflow.ID).Return(int64(0), errors.New("redis down")).Once()

	ok, err := f.validator.Validate(f.ctx, p.workflow.ID, p.a.ID, p.b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	cache.AssertExpectations(t)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

// generationCache is an in-memory DefinitionCache with the same generation rule as the Redis cache.
// beforeSet runs once, ahead of the first Set.
type generationCache struct {
	mu          sync.Mutex
	graphs      map[string]*models.Workflow
	generations map[string]int64
	beforeSet   func()
}

func newGenerationCache() *generationCache {
	return &generationCache{graphs: map[string]*models.Workflow{}, generations: map[string]int64{}}
}

func (c *generationCache) Get(_ context.Context, workflowID string) (*models.Workflow, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	workflow, ok := c.graphs[workflowID]

	return workflow, ok, nil
}

func (c *generationCache) Generation(_ context.Context, workflowID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.generations[workflowID], nil
}

func (c *generationCache) Set(_ context.Context, workflow *models.Workflow, generation int64) error {
	c.mu.Lock()
	hook := c.beforeSet
	c.beforeSet = nil
	c.mu.Unlock()

	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[workflow.ID] == generation {
		c.graphs[workflow.ID] = workflow
	}

	return nil
}

func (c *generationCache) Invalidate(_ context.Context, workflowID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[workflowID]++
	delete(c.graphs, workflowID)

	return nil
}

func TestValidator_DeletedTransitionNotServedFromCache(t *testing.T) {
	cache := newGenerationCache()
	f := newFixtureWith(t, nil, cache)
	p := f.seedPipeline(t)

	transitions, err := f.store.WorkflowRepository().ListTransitions(f.ctx, p.workflow.ID)
	require.NoError(t, err)

	var ab *models.Transition

	for _, transition := range transitions {
		if transition.FromStepID == p.a.ID && transition.ToStepID == p.b.ID {
			ab = transition
		}
	}

	require.NotNil(t, ab)

	// The transition is deleted after the graph was read from the store but before it reaches the cache.
	cache.beforeSet = func() {
		require.NoError(t, f.authoring.DeleteTransition(f.ctx, p.workflow.ID, ab.ID))
	}

	_, err = f.validator.Validate(f.ctx, p.workflow.ID, p.a.ID, p.b.ID)
	require.NoError(t, err)

	ok, err := f.validator.Validate(f.ctx, p.workflow.ID, p.a.ID, p.b.ID)
	require.NoError(t, err)
	assert.False(t, ok, "A->B must be rejected once its transition row is gone")

	project := f.newProject(t, p)

	_, err = f.progress(project, p.b)
	assert.True(t, IsInvalidTransition(err))
}
