package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pipecrm/wfm/pkg/events"
	"github.com/pipecrm/wfm/pkg/metrics"
	"github.com/pipecrm/wfm/pkg/mocks"
	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/otelhelper"
	"github.com/pipecrm/wfm/pkg/persistence"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func historyOf(t *testing.T, f *fixture, project *models.Project) []*models.HistoryEntry {
	t.Helper()

	entries, err := f.store.HistoryRepository().ListByEntity(f.ctx, models.EntityKindProject, project.ID)
	require.NoError(t, err)

	return entries
}

func currentStep(t *testing.T, f *fixture, project *models.Project) string {
	t.Helper()

	loaded, err := f.store.ProjectRepository().GetByID(f.ctx, project.ID)
	require.NoError(t, err)

	return loaded.CurrentStepID
}

func TestProgression_EndToEndScenario(t *testing.T) {
	f := newFixture(t)
	p := f.seedPipeline(t)

	project := f.newProject(t, p)
	assert.Equal(t, p.a.ID, project.CurrentStepID)

	_, err := f.progress(project, p.c)
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))
	assert.Equal(t, p.a.ID, currentStep(t, f, project))
	assert.Empty(t, historyOf(t, f, project))

	updated, err := f.progress(project, p.b)
	require.NoError(t, err)
	assert.Equal(t, p.b.ID, updated.CurrentStepID)
	require.NotNil(t, updated.CurrentStep)
	assert.Equal(t, p.b.ID, updated.CurrentStep.ID)

	entries := historyOf(t, f, project)
	require.Len(t, entries, 1)
	assert.Equal(t, models.HistoryStepChanged, entries[0].EventType)
	assert.Equal(t, p.a.ID, entries[0].Payload[models.PayloadPreviousStepID])
	assert.Equal(t, p.b.ID, entries[0].Payload[models.PayloadNewStepID])
	assert.Equal(t, p.workflow.ID, entries[0].Payload[models.PayloadWorkflowID])

	_, err = f.progress(project, p.c)
	require.NoError(t, err)

	// C is final, but finality is advisory: the explicit C -> B edge reopens the project.
	_, err = f.progress(project, p.b)
	require.NoError(t, err)

	assert.Len(t, historyOf(t, f, project), 3)
	assert.Equal(t, p.b.ID, currentStep(t, f, project))
}

func TestProgression_CurrentStepStaysInWorkflow(t *testing.T) {
	f := newFixture(t)
	p := f.seedPipeline(t)
	other := f.seedPipeline(t)

	project := f.newProject(t, p)

	_, err := f.progress(project, other.b)
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))
	assert.Equal(t, p.a.ID, currentStep(t, f, project))
}

func TestProgression_NotFound(t *testing.T) {
	f := newFixture(t)
	p := f.seedPipeline(t)
	project := f.newProject(t, p)

	_, err := f.progression.Progress(f.ctx, ProgressRequest{ProjectID: "missing", TargetStepID: p.b.ID, ActorUserID: "u"})
	assert.True(t, IsNotFound(err))

	_, err = f.progression.Progress(f.ctx, ProgressRequest{ProjectID: project.ID, TargetStepID: "missing", ActorUserID: "u"})
	assert.True(t, IsNotFound(err))
	assert.Equal(t, p.a.ID, currentStep(t, f, project))
}

func TestProgression_RepeatWithoutSelfTransition(t *testing.T) {
	f := newFixture(t)
	p := f.seedPipeline(t)
	project := f.newProject(t, p)

	_, err := f.progress(project, p.b)
	require.NoError(t, err)

	_, err = f.progress(project, p.b)
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))
	assert.Len(t, historyOf(t, f, project), 1)
}

func TestProgression_RepeatWithSelfTransition(t *testing.T) {
	f := newFixture(t)
	p := f.seedPipeline(t)
	project := f.newProject(t, p)

	_, err := f.authoring.CreateTransition(f.ctx, p.workflow.ID, p.b.ID, p.b.ID, "stay")
	require.NoError(t, err)

	_, err = f.progress(project, p.b)
	require.NoError(t, err)

	_, err = f.progress(project, p.b)
	require.NoError(t, err)

	entries := historyOf(t, f, project)
	require.Len(t, entries, 2)
	assert.Equal(t, p.b.ID, entries[1].Payload[models.PayloadPreviousStepID])
	assert.Equal(t, p.b.ID, entries[1].Payload[models.PayloadNewStepID])
}

// barrierProjects holds every conditional update until all racers have validated against the same step.
type barrierProjects struct {
	persistence.ProjectRepository

	arrived *sync.WaitGroup
}

func (b barrierProjects) UpdateCurrentStep(ctx context.Context, change persistence.StepChange) error {
	b.arrived.Done()
	b.arrived.Wait()

	return b.ProjectRepository.UpdateCurrentStep(ctx, change)
}

func TestProgression_ConcurrentMovesHaveOneWinner(t *testing.T) {
	arrived := &sync.WaitGroup{}

	f := newFixtureWith(t, func(store persistence.Persistence) persistence.Persistence {
		return overridePersistence{
			Persistence: store,
			projects:    barrierProjects{ProjectRepository: store.ProjectRepository(), arrived: arrived},
		}
	}, nil)

	p := f.seedPipeline(t)

	// A second branch out of A so both racers have a distinct, valid target.
	d, err := f.authoring.CreateStep(f.ctx, p.workflow.ID, StepInput{StatusID: p.status.ID})
	require.NoError(t, err)
	_, err = f.authoring.CreateTransition(f.ctx, p.workflow.ID, p.a.ID, d.ID, "branch")
	require.NoError(t, err)

	project := f.newProject(t, p)

	targets := []*models.Step{p.b, d}
	results := make([]error, len(targets))

	arrived.Add(len(targets))

	var done sync.WaitGroup

	for i, target := range targets {
		done.Add(1)

		go func() {
			defer done.Done()

			_, results[i] = f.progress(project, target)
		}()
	}

	done.Wait()

	var winner *models.Step

	successes, conflicts := 0, 0

	for i, err := range results {
		switch {
		case err == nil:
			successes++
			winner = targets[i]
		case errors.Is(err, ErrConcurrentModification):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
	require.NotNil(t, winner)
	assert.Equal(t, winner.ID, currentStep(t, f, project))
	assert.Len(t, historyOf(t, f, project), 1)
	assert.True(t, IsConflictError(results[0]) || IsConflictError(results[1]))
}

func TestProgression_HistoryFailureDoesNotFailMove(t *testing.T) {
	history := &mocks.MockHistoryRepository{}
	history.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	f := newFixtureWith(t, func(store persistence.Persistence) persistence.Persistence {
		return overridePersistence{Persistence: store, history: history}
	}, nil)

	p := f.seedPipeline(t)
	project := f.newProject(t, p)

	updated, err := f.progress(project, p.b)
	require.NoError(t, err)
	assert.Equal(t, p.b.ID, updated.CurrentStepID)
	assert.Equal(t, p.b.ID, currentStep(t, f, project))

	history.AssertExpectations(t)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ProgressionCounter(metrics.OutcomeSuccess)), 0)
}

func TestProgression_PublishesStepChanged(t *testing.T) {
	f := newFixture(t)
	p := f.seedPipeline(t)
	project := f.newProject(t, p)

	_, err := f.progress(project, p.b)
	require.NoError(t, err)

	published := f.publisher.Events()
	require.Len(t, published, 1)

	event, ok := published[0].(events.StepChanged)
	require.True(t, ok)
	assert.Equal(t, events.StepChangedEvent, event.GetType())
	assert.Equal(t, project.ID, event.EntityID)
	assert.Equal(t, models.EntityKindProject, event.EntityKind)
	assert.Equal(t, p.a.ID, event.PreviousStepID)
	assert.Equal(t, p.b.ID, event.NewStepID)
	assert.Equal(t, p.workflow.ID, event.WorkflowID)
}

func TestProgression_PublishFailureDoesNotFailMove(t *testing.T) {
	f := newFixture(t)
	p := f.seedPipeline(t)
	project := f.newProject(t, p)

	publisher := &mocks.MockEventPublisher{}
	publisher.On("Publish", mock.Anything, project.ID, mock.AnythingOfType("events.StepChanged")).Return(errors.New("broker down"))

	progression := NewProgression(f.store, f.validator, publisher, f.metrics, otelhelper.NoopTracer(), testLogger())

	_, err := progression.Progress(f.ctx, ProgressRequest{ProjectID: project.ID, TargetStepID: p.b.ID, ActorUserID: "u"})
	require.NoError(t, err)

	publisher.AssertExpectations(t)
	require.Len(t, publisher.Published(), 1)
	assert.Equal(t, events.StepChangedEvent, publisher.Published()[0].GetType())
	assert.Equal(t, p.b.ID, currentStep(t, f, project))
}
