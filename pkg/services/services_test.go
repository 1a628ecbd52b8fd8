package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/pipecrm/wfm/pkg/eventbus"
	"github.com/pipecrm/wfm/pkg/metrics"
	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/otelhelper"
	"github.com/pipecrm/wfm/pkg/persistence"
	"github.com/pipecrm/wfm/pkg/persistence/sqlite"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	events []eventbus.Event

	// onPublish runs after an event is recorded, between the committed change and the caller's next write.
	onPublish func(ctx context.Context, event eventbus.Event)
}

func (r *recordingPublisher) Publish(ctx context.Context, key string, event eventbus.Event) error {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.events = append(r.events, event)
	hook := r.onPublish
	r.mu.Unlock()

	if hook != nil {
		hook(ctx, event)
	}

	return nil
}

func (r *recordingPublisher) Events() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]eventbus.Event(nil), r.events...)
}

// overridePersistence swaps single repositories of a real store.
type overridePersistence struct {
	persistence.Persistence

	projects persistence.ProjectRepository
	history  persistence.HistoryRepository
}

func (o overridePersistence) ProjectRepository() persistence.ProjectRepository {
	if o.projects != nil {
		return o.projects
	}

	return o.Persistence.ProjectRepository()
}

func (o overridePersistence) HistoryRepository() persistence.HistoryRepository {
	if o.history != nil {
		return o.history
	}

	return o.Persistence.HistoryRepository()
}

type fixture struct {
	ctx         context.Context
	store       persistence.Persistence
	publisher   *recordingPublisher
	metrics     *metrics.Metrics
	validator   *Validator
	authoring   *Authoring
	projects    *Projects
	progression *Progression
	leads       *Leads
	deals       *Deals
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	return newFixtureWith(t, nil, nil)
}

// newFixtureWith builds the services over an in-memory store. wrap, when set, decorates the store the
// services see; cache, when set, is used as the definition cache.
func newFixtureWith(t *testing.T, wrap func(persistence.Persistence) persistence.Persistence, cache DefinitionCache) *fixture {
	t.Helper()

	ctx := t.Context()
	logger := testLogger()

	db, err := sqlite.OpenInMemory(ctx, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close(context.Background())
	})

	var store persistence.Persistence = db
	if wrap != nil {
		store = wrap(store)
	}

	f := &fixture{
		ctx:       ctx,
		store:     store,
		publisher: &recordingPublisher{},
		metrics:   metrics.New(),
	}

	tracer := otelhelper.NoopTracer()

	f.validator = NewValidator(store, cache, f.metrics, logger)
	f.authoring = NewAuthoring(store, cache, tracer, logger)
	f.projects = NewProjects(store, f.validator, f.metrics, tracer, logger)
	f.progression = NewProgression(store, f.validator, f.publisher, f.metrics, tracer, logger)

	deps := EntityDeps{
		Persistence: store,
		Projects:    f.projects,
		Progression: f.progression,
		Publisher:   f.publisher,
		Logger:      logger,
	}

	f.leads = NewLeads(deps)
	f.deals = NewDeals(deps)

	return f
}

// pipeline is the reference workflow: A (initial) -> B -> C (final), with C -> B allowed.
type pipeline struct {
	workflow *models.Workflow
	status   *models.Status
	a, b, c  *models.Step
}

func (f *fixture) seedPipeline(t *testing.T, metadata ...models.StepMetadata) *pipeline {
	t.Helper()

	stepMetadata := func(i int) models.StepMetadata {
		if i < len(metadata) {
			return metadata[i]
		}

		return nil
	}

	status, err := f.authoring.CreateStatus(f.ctx, &models.Status{Name: "Open " + t.Name(), Color: "#00ff00"}, "admin")
	require.NoError(t, err)

	workflow, err := f.authoring.CreateWorkflow(f.ctx, &models.Workflow{Name: "Pipeline " + t.Name()}, "admin")
	require.NoError(t, err)

	p := &pipeline{workflow: workflow, status: status}

	p.a, err = f.authoring.CreateStep(f.ctx, workflow.ID, StepInput{StatusID: status.ID, IsInitialStep: true, Metadata: stepMetadata(0)})
	require.NoError(t, err)

	p.b, err = f.authoring.CreateStep(f.ctx, workflow.ID, StepInput{StatusID: status.ID, Metadata: stepMetadata(1)})
	require.NoError(t, err)

	p.c, err = f.authoring.CreateStep(f.ctx, workflow.ID, StepInput{StatusID: status.ID, IsFinalStep: true, Metadata: stepMetadata(2)})
	require.NoError(t, err)

	for _, edge := range [][2]*models.Step{{p.a, p.b}, {p.b, p.c}, {p.c, p.b}} {
		_, err = f.authoring.CreateTransition(f.ctx, workflow.ID, edge[0].ID, edge[1].ID, "move")
		require.NoError(t, err)
	}

	return p
}

func (f *fixture) newProject(t *testing.T, p *pipeline) *models.Project {
	t.Helper()

	project, err := f.projects.CreateProject(f.ctx, CreateProjectRequest{
		WorkflowID:  p.workflow.ID,
		Name:        "Project " + t.Name(),
		ActorUserID: "user-1",
	})
	require.NoError(t, err)

	return project
}

func (f *fixture) progress(project *models.Project, target *models.Step) (*models.Project, error) {
	return f.progression.Progress(f.ctx, ProgressRequest{
		ProjectID:    project.ID,
		TargetStepID: target.ID,
		ActorUserID:  "user-1",
	})
}
