package services

import (
	"context"
	"errors"
	"testing"

	"github.com/pipecrm/wfm/pkg/eventbus"
	"github.com/pipecrm/wfm/pkg/events"
	"github.com/pipecrm/wfm/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var owner = models.Actor{UserID: "owner-1"}

// seedLeadPipeline installs the lead qualification project type on a pipeline whose steps carry lead metadata.
func (f *fixture) seedLeadPipeline(t *testing.T) *pipeline {
	t.Helper()

	p := f.seedPipeline(t,
		models.StepMetadata{"stage_name": "New", "lead_qualified": false},
		models.StepMetadata{"stage_name": "Qualified", "lead_qualified": true, "lead_qualification_level": 0.8},
		models.StepMetadata{"stage_name": "Archived"},
	)

	_, err := f.authoring.CreateProjectType(f.ctx, &models.ProjectType{
		Name:              models.ProjectTypeLeadQualification,
		DefaultWorkflowID: p.workflow.ID,
	})
	require.NoError(t, err)

	return p
}

func (f *fixture) seedDealPipeline(t *testing.T) *pipeline {
	t.Helper()

	p := f.seedPipeline(t,
		models.StepMetadata{"stage_name": "Discovery", "deal_probability": 0.1},
		models.StepMetadata{"stage_name": "Proposal", "deal_probability": 0.5},
		models.StepMetadata{"stage_name": "Won", "deal_probability": 1.0},
	)

	_, err := f.authoring.CreateProjectType(f.ctx, &models.ProjectType{
		Name:              models.ProjectTypeSalesDeal,
		DefaultWorkflowID: p.workflow.ID,
	})
	require.NoError(t, err)

	return p
}

func (r *recordingPublisher) Types() []events.EventType {
	published := r.Events()

	types := make([]events.EventType, 0, len(published))
	for _, event := range published {
		types = append(types, event.GetType())
	}

	return types
}

func TestLeads_CreateLinksProjectAndAppliesInitialStep(t *testing.T) {
	f := newFixture(t)
	p := f.seedLeadPipeline(t)

	lead, err := f.leads.Create(f.ctx, &models.Lead{Name: "Acme", CreatedBy: owner.UserID}, owner, CreateOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, lead.ID)
	assert.NotEmpty(t, lead.WFMProjectID)
	assert.Equal(t, "New", lead.StageName)
	assert.False(t, lead.IsQualified)

	project, err := f.projects.GetProject(f.ctx, lead.WFMProjectID)
	require.NoError(t, err)
	assert.Equal(t, p.a.ID, project.CurrentStepID)
	assert.Equal(t, "Acme", project.Name)

	stored, err := f.leads.Get(f.ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, lead.WFMProjectID, stored.WFMProjectID)

	history, err := f.leads.History(f.ctx, lead.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryCreated, history[0].EventType)
	assert.Equal(t, lead.WFMProjectID, history[0].Payload[models.PayloadProjectID])

	assert.Equal(t, []events.EventType{events.LeadCreatedEvent}, f.publisher.Types())
}

func TestLeads_CreateWithoutProjectType(t *testing.T) {
	f := newFixture(t)
	p := f.seedPipeline(t)

	_, err := f.leads.Create(f.ctx, &models.Lead{Name: "Acme"}, owner, CreateOptions{})
	assert.True(t, IsConfigurationError(err))

	lead, err := f.leads.Create(f.ctx, &models.Lead{Name: "Acme"}, owner, CreateOptions{WorkflowID: p.workflow.ID})
	require.NoError(t, err)

	project, err := f.projects.GetProject(f.ctx, lead.WFMProjectID)
	require.NoError(t, err)
	assert.Empty(t, project.ProjectTypeID)
}

func TestLeads_CreateValidation(t *testing.T) {
	f := newFixture(t)
	f.seedLeadPipeline(t)

	_, err := f.leads.Create(f.ctx, &models.Lead{}, owner, CreateOptions{})
	assert.True(t, IsValidationError(err))

	_, err = f.leads.Create(f.ctx, &models.Lead{Name: "Acme", ContactEmail: "not-an-email"}, owner, CreateOptions{})
	assert.True(t, IsValidationError(err))

	_, err = f.leads.Create(f.ctx, &models.Lead{Name: "Acme"}, models.Actor{}, CreateOptions{})
	assert.True(t, IsValidationError(err))

	assert.Empty(t, f.publisher.Events())
}

func TestLeads_Progress(t *testing.T) {
	f := newFixture(t)
	p := f.seedLeadPipeline(t)

	lead, err := f.leads.Create(f.ctx, &models.Lead{Name: "Acme", CreatedBy: owner.UserID}, owner, CreateOptions{})
	require.NoError(t, err)

	moved, err := f.leads.Progress(f.ctx, lead.ID, p.b.ID, owner)
	require.NoError(t, err)
	assert.True(t, moved.IsQualified)
	assert.InDelta(t, 0.8, moved.QualificationLevel, 1e-9)
	assert.Equal(t, "Qualified", moved.StageName)

	// Step C carries no qualification keys, so those fields stay as they were.
	moved, err = f.leads.Progress(f.ctx, lead.ID, p.c.ID, owner)
	require.NoError(t, err)
	assert.True(t, moved.IsQualified)
	assert.Equal(t, "Archived", moved.StageName)

	stored, err := f.leads.Get(f.ctx, lead.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsQualified)
	assert.Equal(t, "Archived", stored.StageName)

	history, err := f.store.HistoryRepository().ListByEntity(f.ctx, models.EntityKindLead, lead.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.HistoryStepChanged, history[1].EventType)
	assert.Equal(t, p.a.ID, history[1].Payload[models.PayloadPreviousStepID])
	assert.Equal(t, p.b.ID, history[1].Payload[models.PayloadNewStepID])
}

func TestLeads_ProgressInvalidTransitionLeavesLeadUntouched(t *testing.T) {
	f := newFixture(t)
	p := f.seedLeadPipeline(t)

	lead, err := f.leads.Create(f.ctx, &models.Lead{Name: "Acme", CreatedBy: owner.UserID}, owner, CreateOptions{})
	require.NoError(t, err)

	_, err = f.leads.Progress(f.ctx, lead.ID, p.c.ID, owner)
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))

	stored, err := f.leads.Get(f.ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "New", stored.StageName)
}

func TestLeads_ProgressAuthorization(t *testing.T) {
	f := newFixture(t)
	p := f.seedLeadPipeline(t)

	lead, err := f.leads.Create(f.ctx, &models.Lead{
		Name:             "Acme",
		CreatedBy:        owner.UserID,
		AssignedToUserID: "assignee-1",
	}, owner, CreateOptions{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		actor   models.Actor
		allowed bool
	}{
		{"stranger", models.Actor{UserID: "stranger"}, false},
		{"anonymous", models.Actor{}, false},
		{"wrong permission", models.Actor{UserID: "stranger", Permissions: []string{models.PermissionDealUpdateAny}}, false},
		{"assignee", models.Actor{UserID: "assignee-1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.leads.Progress(f.ctx, lead.ID, p.b.ID, tt.actor)
			if tt.allowed {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.True(t, IsForbidden(err))

			project, err := f.projects.GetProject(f.ctx, lead.WFMProjectID)
			require.NoError(t, err)
			assert.Equal(t, p.a.ID, project.CurrentStepID)
		})
	}

	_, err = f.leads.Progress(f.ctx, lead.ID, p.c.ID, models.Actor{UserID: "manager", Permissions: []string{models.PermissionLeadUpdateAny}})
	require.NoError(t, err)
}

func TestDeals_ProgressAppliesStepProbability(t *testing.T) {
	f := newFixture(t)
	p := f.seedDealPipeline(t)

	override := 0.9

	deal, err := f.deals.Create(f.ctx, &models.Deal{
		Name:                    "Big deal",
		Amount:                  1000,
		Currency:                "EUR",
		CreatedBy:               owner.UserID,
		DealSpecificProbability: &override,
	}, owner, CreateOptions{})
	require.NoError(t, err)
	require.NotNil(t, deal.StepProbability)
	assert.InDelta(t, 0.1, *deal.StepProbability, 1e-9)
	assert.Equal(t, "Discovery", deal.StageName)

	moved, err := f.deals.Progress(f.ctx, deal.ID, p.b.ID, owner)
	require.NoError(t, err)
	require.NotNil(t, moved.StepProbability)
	assert.InDelta(t, 0.5, *moved.StepProbability, 1e-9)
	assert.InDelta(t, 0.9, *moved.EffectiveProbability(), 1e-9, "user override wins")

	stored, err := f.deals.Get(f.ctx, deal.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.StepProbability)
	assert.InDelta(t, 0.5, *stored.StepProbability, 1e-9)
	require.NotNil(t, stored.DealSpecificProbability)
	assert.InDelta(t, 0.9, *stored.DealSpecificProbability, 1e-9)

	assert.Equal(t, []events.EventType{events.DealCreatedEvent, events.StepChangedEvent}, f.publisher.Types())
}

func TestDeals_ProgressRejectsInvalidTargetMetadata(t *testing.T) {
	f := newFixture(t)
	p := f.seedDealPipeline(t)

	deal, err := f.deals.Create(f.ctx, &models.Deal{Name: "Deal", CreatedBy: owner.UserID}, owner, CreateOptions{})
	require.NoError(t, err)

	// Written straight to the store to bypass authoring validation.
	p.b.Metadata = models.StepMetadata{"deal_probability": "high"}
	require.NoError(t, f.store.WorkflowRepository().SaveStep(f.ctx, p.b))

	_, err = f.deals.Progress(f.ctx, deal.ID, p.b.ID, owner)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	project, err := f.projects.GetProject(f.ctx, deal.WFMProjectID)
	require.NoError(t, err)
	assert.Equal(t, p.a.ID, project.CurrentStepID, "nothing is written when the target metadata is invalid")
}

func TestDeals_ProgressUnknownTarget(t *testing.T) {
	f := newFixture(t)
	f.seedDealPipeline(t)

	deal, err := f.deals.Create(f.ctx, &models.Deal{Name: "Deal", CreatedBy: owner.UserID}, owner, CreateOptions{})
	require.NoError(t, err)

	_, err = f.deals.Progress(f.ctx, deal.ID, "missing", owner)
	assert.True(t, IsNotFound(err))

	_, err = f.deals.Progress(f.ctx, "missing", "missing", owner)
	assert.True(t, IsNotFound(err))
}

func TestDeals_UpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	f.seedDealPipeline(t)

	deal, err := f.deals.Create(f.ctx, &models.Deal{Name: "Deal", CreatedBy: owner.UserID}, owner, CreateOptions{})
	require.NoError(t, err)

	_, err = f.deals.Update(f.ctx, deal.ID, models.Actor{UserID: "stranger"}, func(d *models.Deal) error {
		d.Amount = 1
		return nil
	})
	assert.True(t, IsForbidden(err))

	_, err = f.deals.Update(f.ctx, deal.ID, owner, func(d *models.Deal) error {
		return errors.New("amount is locked")
	})
	assert.True(t, IsValidationError(err))

	_, err = f.deals.Update(f.ctx, deal.ID, owner, func(d *models.Deal) error {
		d.Currency = "EURO"
		return nil
	})
	assert.True(t, IsValidationError(err))

	updated, err := f.deals.Update(f.ctx, deal.ID, owner, func(d *models.Deal) error {
		d.Amount = 2500
		d.AssignedToUserID = "assignee-2"
		return nil
	})
	require.NoError(t, err)
	assert.InDelta(t, 2500, updated.Amount, 1e-9)
	assert.Equal(t, deal.WFMProjectID, updated.WFMProjectID)

	err = f.deals.Delete(f.ctx, deal.ID, models.Actor{UserID: "stranger"})
	assert.True(t, IsForbidden(err))

	err = f.deals.Delete(f.ctx, deal.ID, models.Actor{UserID: "assignee-2"})
	require.NoError(t, err)

	_, err = f.deals.Get(f.ctx, deal.ID)
	assert.True(t, IsNotFound(err))

	_, err = f.projects.GetProject(f.ctx, deal.WFMProjectID)
	assert.True(t, IsNotFound(err), "the project goes with its deal")

	history, err := f.store.HistoryRepository().ListByEntity(f.ctx, models.EntityKindDeal, deal.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.HistoryDeleted, history[2].EventType)

	assert.Equal(t, []events.EventType{
		events.DealCreatedEvent,
		events.DealUpdatedEvent,
		events.DealDeletedEvent,
	}, f.publisher.Types())
}

func TestLeads_ProgressOvertakenByLaterProgression(t *testing.T) {
	f := newFixture(t)
	p := f.seedLeadPipeline(t)

	lead, err := f.leads.Create(f.ctx, &models.Lead{Name: "Acme", CreatedBy: owner.UserID}, owner, CreateOptions{})
	require.NoError(t, err)

	var nestedErr error

	// Move on to C while the move to B has committed its step but not yet written the lead.
	f.publisher.onPublish = func(ctx context.Context, event eventbus.Event) {
		changed, ok := event.(events.StepChanged)
		if !ok || changed.NewStepID != p.b.ID {
			return
		}

		_, nestedErr = f.leads.Progress(ctx, lead.ID, p.c.ID, owner)
	}

	moved, err := f.leads.Progress(f.ctx, lead.ID, p.b.ID, owner)
	require.NoError(t, err)
	require.NoError(t, nestedErr)

	project, err := f.projects.GetProject(f.ctx, lead.WFMProjectID)
	require.NoError(t, err)
	assert.Equal(t, p.c.ID, project.CurrentStepID)

	stored, err := f.leads.Get(f.ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "Archived", stored.StageName, "fields follow the step the project ended on")
	assert.Equal(t, "Archived", moved.StageName)
}

func TestDeals_ProgressOvertakenByLaterProgression(t *testing.T) {
	f := newFixture(t)
	p := f.seedDealPipeline(t)

	deal, err := f.deals.Create(f.ctx, &models.Deal{Name: "Deal", CreatedBy: owner.UserID}, owner, CreateOptions{})
	require.NoError(t, err)

	f.publisher.onPublish = func(ctx context.Context, event eventbus.Event) {
		if changed, ok := event.(events.StepChanged); ok && changed.NewStepID == p.b.ID {
			_, err := f.deals.Progress(ctx, deal.ID, p.c.ID, owner)
			assert.NoError(t, err)
		}
	}

	_, err = f.deals.Progress(f.ctx, deal.ID, p.b.ID, owner)
	require.NoError(t, err)

	stored, err := f.deals.Get(f.ctx, deal.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.StepProbability)
	assert.InDelta(t, 1.0, *stored.StepProbability, 1e-9)
	assert.Equal(t, "Won", stored.StageName)
}

func TestLeads_UpdateRacingProgressionKeepsBoth(t *testing.T) {
	f := newFixture(t)
	p := f.seedLeadPipeline(t)

	lead, err := f.leads.Create(f.ctx, &models.Lead{Name: "Acme", CreatedBy: owner.UserID}, owner, CreateOptions{})
	require.NoError(t, err)

	updated, err := f.leads.Update(f.ctx, lead.ID, owner, func(l *models.Lead) error {
		// The lead was loaded on step A; the project moves to B before the edit is stored.
		_, err := f.leads.Progress(f.ctx, l.ID, p.b.ID, owner)
		require.NoError(t, err)

		l.Source = "referral"

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Qualified", updated.StageName)

	stored, err := f.leads.Get(f.ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "referral", stored.Source)
	assert.Equal(t, "Qualified", stored.StageName)
	assert.True(t, stored.IsQualified)
	assert.InDelta(t, 0.8, stored.QualificationLevel, 1e-9)
}
