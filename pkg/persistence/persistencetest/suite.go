// Package persistencetest holds the behaviour every persistence backend must share.
package persistencetest

import (
	"context"
	"testing"
	"time"

	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/persistence"
	"github.com/pipecrm/wfm/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a freshly migrated, empty backend.
type Factory func(t *testing.T) (persistence.Persistence, context.Context)

// Run executes the shared repository suite against the backend built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, p persistence.Persistence, ctx context.Context)
	}{
		{"WorkflowCRUD", testWorkflowCRUD},
		{"DuplicateWorkflowName", testDuplicateWorkflowName},
		{"StepsOrderedWithMetadata", testStepsOrderedWithMetadata},
		{"DuplicateStepOrder", testDuplicateStepOrder},
		{"ReorderSteps", testReorderSteps},
		{"ReorderStepsMismatch", testReorderStepsMismatch},
		{"Transitions", testTransitions},
		{"TransitionAcrossWorkflowsRejected", testTransitionAcrossWorkflowsRejected},
		{"DeleteStepCascadesTransitions", testDeleteStepCascadesTransitions},
		{"DeleteStepHeldByProject", testDeleteStepHeldByProject},
		{"ProjectConditionalUpdate", testProjectConditionalUpdate},
		{"ProjectStepMustBelongToWorkflow", testProjectStepMustBelongToWorkflow},
		{"History", testHistory},
		{"LeadLifecycle", testLeadLifecycle},
		{"DealLifecycle", testDealLifecycle},
		{"ListOrphans", testListOrphans},
		{"Catalog", testCatalog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ctx := factory(t)
			tt.fn(t, p, ctx)
		})
	}
}

// Graph is a persisted workflow with three ordered steps A, B and C.
type Graph struct {
	Workflow *models.Workflow
	Status   *models.Status
	A, B, C  *models.Step
}

// SeedGraph stores a workflow with steps A (initial), B and C (final) and no transitions.
func SeedGraph(t *testing.T, ctx context.Context, p persistence.Persistence) *Graph {
	t.Helper()

	status := testutil.CreateTestStatus()
	require.NoError(t, p.StatusRepository().Save(ctx, status))

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	g := &Graph{
		Workflow: workflow,
		Status:   status,
		A:        testutil.CreateTestStep(workflow.ID, status.ID, 1, testutil.WithInitialStep()),
		B:        testutil.CreateTestStep(workflow.ID, status.ID, 2),
		C:        testutil.CreateTestStep(workflow.ID, status.ID, 3, testutil.WithFinalStep()),
	}

	for _, step := range []*models.Step{g.A, g.B, g.C} {
		require.NoError(t, p.WorkflowRepository().SaveStep(ctx, step))
	}

	return g
}

// Connect stores a transition between two steps of g.
func (g *Graph) Connect(t *testing.T, ctx context.Context, p persistence.Persistence, from, to *models.Step) *models.Transition {
	t.Helper()

	transition := &models.Transition{
		WorkflowID: g.Workflow.ID,
		FromStepID: from.ID,
		ToStepID:   to.ID,
		Name:       "go",
	}
	require.NoError(t, p.WorkflowRepository().SaveTransition(ctx, transition))

	return transition
}

func createProject(t *testing.T, ctx context.Context, p persistence.Persistence, g *Graph) *models.Project {
	t.Helper()

	project := &models.Project{
		WorkflowID:    g.Workflow.ID,
		CurrentStepID: g.A.ID,
		Name:          "project",
		CreatedBy:     "user-1",
	}
	require.NoError(t, p.ProjectRepository().Create(ctx, project))

	return project
}

func testWorkflowCRUD(t *testing.T, p persistence.Persistence, ctx context.Context) {
	repo := p.WorkflowRepository()

	workflow := testutil.CreateTestWorkflow(testutil.WithWorkflowName("Sales Pipeline"))
	require.NoError(t, repo.Save(ctx, workflow))
	assert.NotEmpty(t, workflow.ID)
	assert.False(t, workflow.CreatedAt.IsZero())

	loaded, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sales Pipeline", loaded.Name)

	byName, err := repo.GetByName(ctx, "Sales Pipeline")
	require.NoError(t, err)
	assert.Equal(t, workflow.ID, byName.ID)

	workflow.IsArchived = true
	workflow.Description = "archived"
	require.NoError(t, repo.Save(ctx, workflow))

	active, err := repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "archived", all[0].Description)

	_, err = repo.GetByID(ctx, "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func testDuplicateWorkflowName(t *testing.T, p persistence.Persistence, ctx context.Context) {
	repo := p.WorkflowRepository()

	require.NoError(t, repo.Save(ctx, testutil.CreateTestWorkflow(testutil.WithWorkflowName("Same"))))

	err := repo.Save(ctx, testutil.CreateTestWorkflow(testutil.WithWorkflowName("Same")))
	require.Error(t, err)
	assert.True(t, persistence.IsDuplicate(err))
}

func testStepsOrderedWithMetadata(t *testing.T, p persistence.Persistence, ctx context.Context) {
	status := testutil.CreateTestStatus()
	require.NoError(t, p.StatusRepository().Save(ctx, status))

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	repo := p.WorkflowRepository()

	second := testutil.CreateTestStep(workflow.ID, status.ID, 2, testutil.WithMetadata(models.StepMetadata{
		models.MetadataDealProbability: 0.5,
		"custom":                       "kept",
	}))
	first := testutil.CreateTestStep(workflow.ID, status.ID, 1, testutil.WithInitialStep())

	require.NoError(t, repo.SaveStep(ctx, second))
	require.NoError(t, repo.SaveStep(ctx, first))

	steps, err := repo.ListSteps(ctx, workflow.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, first.ID, steps[0].ID)
	assert.True(t, steps[0].IsInitialStep)
	assert.Equal(t, second.ID, steps[1].ID)

	probability, ok := steps[1].Metadata.Number(models.MetadataDealProbability)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, probability, 1e-9)
	assert.Equal(t, "kept", steps[1].Metadata["custom"])

	next, err := repo.NextStepOrder(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, next)

	_, err = repo.GetStep(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrStepNotFound)
}

func testDuplicateStepOrder(t *testing.T, p persistence.Persistence, ctx context.Context) {
	g := SeedGraph(t, ctx, p)

	err := p.WorkflowRepository().SaveStep(ctx, testutil.CreateTestStep(g.Workflow.ID, g.Status.ID, 2))
	require.Error(t, err)
	assert.True(t, persistence.IsDuplicate(err))
}

func testReorderSteps(t *testing.T, p persistence.Persistence, ctx context.Context) {
	g := SeedGraph(t, ctx, p)
	repo := p.WorkflowRepository()

	require.NoError(t, repo.ReorderSteps(ctx, g.Workflow.ID, []string{g.C.ID, g.A.ID, g.B.ID}))

	steps, err := repo.ListSteps(ctx, g.Workflow.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Equal(t, []string{g.C.ID, g.A.ID, g.B.ID}, []string{steps[0].ID, steps[1].ID, steps[2].ID})
	assert.Equal(t, []int{1, 2, 3}, []int{steps[0].StepOrder, steps[1].StepOrder, steps[2].StepOrder})
}

func testReorderStepsMismatch(t *testing.T, p persistence.Persistence, ctx context.Context) {
	g := SeedGraph(t, ctx, p)
	repo := p.WorkflowRepository()

	for _, ids := range [][]string{
		{g.A.ID, g.B.ID},
		{g.A.ID, g.B.ID, g.B.ID},
		{g.A.ID, g.B.ID, "foreign"},
	} {
		err := repo.ReorderSteps(ctx, g.Workflow.ID, ids)
		assert.ErrorIs(t, err, persistence.ErrStepSetMismatch)
	}

	steps, err := repo.ListSteps(ctx, g.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, g.A.ID, steps[0].ID)
	assert.Equal(t, 1, steps[0].StepOrder)
}

func testTransitions(t *testing.T, p persistence.Persistence, ctx context.Context) {
	g := SeedGraph(t, ctx, p)
	repo := p.WorkflowRepository()

	ab := g.Connect(t, ctx, p, g.A, g.B)
	g.Connect(t, ctx, p, g.B, g.C)

	transitions, err := repo.ListTransitions(ctx, g.Workflow.ID)
	require.NoError(t, err)
	assert.Len(t, transitions, 2)

	loaded, err := repo.GetTransition(ctx, ab.ID)
	require.NoError(t, err)
	assert.Equal(t, g.A.ID, loaded.FromStepID)
	assert.Equal(t, g.B.ID, loaded.ToStepID)

	err = repo.SaveTransition(ctx, &models.Transition{
		WorkflowID: g.Workflow.ID, FromStepID: g.A.ID, ToStepID: g.B.ID, Name: "again",
	})
	assert.True(t, persistence.IsDuplicate(err))

	require.NoError(t, repo.DeleteTransition(ctx, ab.ID))
	assert.ErrorIs(t, repo.DeleteTransition(ctx, ab.ID), persistence.ErrTransitionNotFound)
}

func testTransitionAcrossWorkflowsRejected(t *testing.T, p persistence.Persistence, ctx context.Context) {
	g := SeedGraph(t, ctx, p)
	other := SeedGraph(t, ctx, p)

	err := p.WorkflowRepository().SaveTransition(ctx, &models.Transition{
		WorkflowID: g.Workflow.ID,
		FromStepID: g.A.ID,
		ToStepID:   other.B.ID,
		Name:       "leak",
	})
	require.Error(t, err)
}

func testDeleteStepCascadesTransitions(t *testing.T, p persistence.Persistence, ctx context.Context) {
	g := SeedGraph(t, ctx, p)
	repo := p.WorkflowRepository()

	g.Connect(t, ctx, p, g.A, g.B)
	bc := g.Connect(t, ctx, p, g.B, g.C)

	require.NoError(t, repo.DeleteStep(ctx, g.B.ID))

	transitions, err := repo.ListTransitions(ctx, g.Workflow.ID)
	require.NoError(t, err)
	assert.Empty(t, transitions)

	_, err = repo.GetTransition(ctx, bc.ID)
	assert.ErrorIs(t, err, persistence.ErrTransitionNotFound)
}

func testDeleteStepHeldByProject(t *testing.T, p persistence.Persistence, ctx context.Context) {
	g := SeedGraph(t, ctx, p)
	repo := p.WorkflowRepository()

	project := createProject(t, ctx, p, g)

	err := repo.DeleteStep(ctx, project.CurrentStepID)
	require.ErrorIs(t, err, persistence.ErrStepInUse)

	_, err = repo.GetStep(ctx, project.CurrentStepID)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteStep(ctx, g.C.ID))
}

func testProjectConditionalUpdate(t *testing.T, p persistence.Persistence, ctx context.Context) {
	g := SeedGraph(t, ctx, p)
	repo := p.ProjectRepository()

	project := createProject(t, ctx, p, g)

	err := repo.UpdateCurrentStep(ctx, persistence.StepChange{
		ProjectID:      project.ID,
		ExpectedStepID: g.A.ID,
		NewStepID:      g.B.ID,
		ActorUserID:    "user-2",
	})
	require.NoError(t, err)

	loaded, err := repo.GetByID(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, g.B.ID, loaded.CurrentStepID)
	assert.Equal(t, "user-2", loaded.UpdatedBy)

	err = repo.UpdateCurrentStep(ctx, persistence.StepChange{
		ProjectID:      project.ID,
		ExpectedStepID: g.A.ID,
		NewStepID:      g.C.ID,
		ActorUserID:    "user-3",
	})
	require.Error(t, err)
	assert.True(t, persistence.IsConcurrentModification(err))

	loaded, err = repo.GetByID(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, g.B.ID, loaded.CurrentStepID)

	count, err := repo.CountAtStep(ctx, g.B.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrProjectNotFound)
}

func testProjectStepMustBelongToWorkflow(t *testing.T, p persistence.Persistence, ctx context.Context) {
	g := SeedGraph(t, ctx, p)
	other := SeedGraph(t, ctx, p)

	err := p.ProjectRepository().Create(ctx, &models.Project{
		WorkflowID:    g.Workflow.ID,
		CurrentStepID: other.A.ID,
		Name:          "mismatched",
	})
	require.Error(t, err)
}

func testHistory(t *testing.T, p persistence.Persistence, ctx context.Context) {
	repo := p.HistoryRepository()

	for _, step := range []string{"a", "b"} {
		require.NoError(t, repo.Append(ctx, &models.HistoryEntry{
			EntityID:    "deal-1",
			EntityKind:  models.EntityKindDeal,
			ActorUserID: "user-1",
			EventType:   models.HistoryStepChanged,
			Payload:     map[string]any{models.PayloadNewStepID: step},
		}))
	}

	require.NoError(t, repo.Append(ctx, &models.HistoryEntry{
		EntityID:   "deal-1",
		EntityKind: models.EntityKindLead,
		EventType:  models.HistoryCreated,
	}))

	entries, err := repo.ListByEntity(ctx, models.EntityKindDeal, "deal-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.HistoryStepChanged, entries[0].EventType)
	assert.Equal(t, "a", entries[0].Payload[models.PayloadNewStepID])
	assert.Equal(t, "b", entries[1].Payload[models.PayloadNewStepID])
}

func testLeadLifecycle(t *testing.T, p persistence.Persistence, ctx context.Context) {
	g := SeedGraph(t, ctx, p)
	project := createProject(t, ctx, p, g)
	repo := p.LeadRepository()

	lead := testutil.CreateTestLead("user-1", func(l *models.Lead) { l.WFMProjectID = project.ID })
	require.NoError(t, repo.Create(ctx, lead))

	qualified, level, stage := true, 0.75, "Qualified"

	applied, err := repo.ApplyStepFields(ctx, lead.ID, g.A.ID, models.LeadStepFields{
		IsQualified:        &qualified,
		QualificationLevel: &level,
		StageName:          &stage,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	// The project is on A, so fields computed for B are dropped.
	other := "Lost"
	applied, err = repo.ApplyStepFields(ctx, lead.ID, g.B.ID, models.LeadStepFields{StageName: &other})
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = repo.ApplyStepFields(ctx, "missing", g.A.ID, models.LeadStepFields{StageName: &other})
	assert.ErrorIs(t, err, persistence.ErrLeadNotFound)

	// Update leaves the step fields alone.
	lead.Source = "referral"
	lead.StageName = "Edited"
	lead.IsQualified = false
	require.NoError(t, repo.Update(ctx, lead))

	loaded, err := repo.GetByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, project.ID, loaded.WFMProjectID)
	assert.Equal(t, "referral", loaded.Source)
	assert.True(t, loaded.IsQualified)
	assert.InDelta(t, 0.75, loaded.QualificationLevel, 1e-9)
	assert.Equal(t, "Qualified", loaded.StageName)

	require.NoError(t, repo.Delete(ctx, lead.ID))

	_, err = repo.GetByID(ctx, lead.ID)
	assert.ErrorIs(t, err, persistence.ErrLeadNotFound)

	_, err = p.ProjectRepository().GetByID(ctx, project.ID)
	assert.ErrorIs(t, err, persistence.ErrProjectNotFound)
}

func testDealLifecycle(t *testing.T, p persistence.Persistence, ctx context.Context) {
	g := SeedGraph(t, ctx, p)
	project := createProject(t, ctx, p, g)
	repo := p.DealRepository()

	closeDate := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	deal := testutil.CreateTestDeal("user-1", func(d *models.Deal) {
		d.WFMProjectID = project.ID
		d.ExpectedCloseDate = &closeDate
	})
	require.NoError(t, repo.Create(ctx, deal))

	loaded, err := repo.GetByID(ctx, deal.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.StepProbability)
	assert.Nil(t, loaded.DealSpecificProbability)
	require.NotNil(t, loaded.ExpectedCloseDate)
	assert.True(t, closeDate.Equal(*loaded.ExpectedCloseDate))

	stage := "Proposal"

	applied, err := repo.ApplyStepFields(ctx, deal.ID, g.A.ID, models.DealStepFields{
		StepProbability: testutil.Float(0.4),
		StageName:       &stage,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.ApplyStepFields(ctx, deal.ID, g.C.ID, models.DealStepFields{StepProbability: testutil.Float(1)})
	require.NoError(t, err)
	assert.False(t, applied)

	loaded.StepProbability = testutil.Float(0.9)
	loaded.Amount = 2500
	require.NoError(t, repo.Update(ctx, loaded))

	loaded, err = repo.GetByID(ctx, deal.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.StepProbability)
	assert.InDelta(t, 0.4, *loaded.StepProbability, 1e-9)
	assert.InDelta(t, 0.4, *loaded.EffectiveProbability(), 1e-9)
	assert.InDelta(t, 2500, loaded.Amount, 1e-9)
	assert.Equal(t, "Proposal", loaded.StageName)

	assert.ErrorIs(t, repo.Update(ctx, &models.Deal{ID: "missing", Name: "x"}), persistence.ErrDealNotFound)

	require.NoError(t, repo.Delete(ctx, deal.ID))
	assert.ErrorIs(t, repo.Delete(ctx, deal.ID), persistence.ErrDealNotFound)
}

func testListOrphans(t *testing.T, p persistence.Persistence, ctx context.Context) {
	g := SeedGraph(t, ctx, p)

	linked := createProject(t, ctx, p, g)
	require.NoError(t, p.DealRepository().Create(ctx, testutil.CreateTestDeal("user-1", func(d *models.Deal) {
		d.WFMProjectID = linked.ID
	})))

	orphan := createProject(t, ctx, p, g)

	orphans, err := p.ProjectRepository().ListOrphans(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, orphan.ID, orphans[0].ID)

	none, err := p.ProjectRepository().ListOrphans(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, p.ProjectRepository().Delete(ctx, orphan.ID))
	require.Error(t, p.ProjectRepository().Delete(ctx, linked.ID))
}

func testCatalog(t *testing.T, p persistence.Persistence, ctx context.Context) {
	status := testutil.CreateTestStatus(func(s *models.Status) { s.Name = "Open" })
	require.NoError(t, p.StatusRepository().Save(ctx, status))

	byName, err := p.StatusRepository().GetByName(ctx, "Open")
	require.NoError(t, err)
	assert.Equal(t, status.ID, byName.ID)

	_, err = p.StatusRepository().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrStatusNotFound)

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	projectType := &models.ProjectType{Name: models.ProjectTypeSalesDeal, DefaultWorkflowID: workflow.ID}
	require.NoError(t, p.ProjectTypeRepository().Save(ctx, projectType))

	loaded, err := p.ProjectTypeRepository().GetByName(ctx, models.ProjectTypeSalesDeal)
	require.NoError(t, err)
	assert.Equal(t, workflow.ID, loaded.DefaultWorkflowID)

	types, err := p.ProjectTypeRepository().List(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 1)

	_, err = p.ProjectTypeRepository().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrProjectTypeNotFound)
}
