package adapters

import (
	"testing"

	"github.com/pipecrm/wfm/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Adapter[*models.Lead, LeadPatch] = LeadAdapter{}
	_ Adapter[*models.Deal, DealPatch] = DealAdapter{}
)

func TestAuthorizeProgression(t *testing.T) {
	lead := &models.Lead{ID: "l1", CreatedBy: "creator", AssignedToUserID: "assignee"}
	deal := &models.Deal{ID: "d1", CreatedBy: "creator"}

	tests := []struct {
		name  string
		actor models.Actor
		lead  bool
		deal  bool
	}{
		{"creator", models.Actor{UserID: "creator"}, true, true},
		{"assignee", models.Actor{UserID: "assignee"}, true, false},
		{"stranger", models.Actor{UserID: "stranger"}, false, false},
		{"lead blanket permission", models.Actor{UserID: "manager", Permissions: []string{models.PermissionLeadUpdateAny}}, true, false},
		{"deal blanket permission", models.Actor{UserID: "manager", Permissions: []string{models.PermissionDealUpdateAny}}, false, true},
		{"anonymous", models.Actor{}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.lead, NewLeadAdapter().AuthorizeProgression(lead, tt.actor))
			assert.Equal(t, tt.deal, NewDealAdapter().AuthorizeProgression(deal, tt.actor))
		})
	}
}

func TestDealAdapter_ApplyStepMetadata(t *testing.T) {
	override := 0.9
	deal := &models.Deal{ID: "d1", DealSpecificProbability: &override}

	patch, err := NewDealAdapter().ApplyStepMetadata(deal, &models.Step{Metadata: models.StepMetadata{
		models.MetadataDealProbability: 0.6,
		models.MetadataStageName:       "Negotiation",
		"ui_color":                     "green",
	}})
	require.NoError(t, err)
	require.False(t, patch.Empty())

	patch.Apply(deal)

	require.NotNil(t, deal.StepProbability)
	assert.InDelta(t, 0.6, *deal.StepProbability, 0.0001)
	assert.Equal(t, "Negotiation", deal.StageName)
	assert.InDelta(t, 0.9, *deal.EffectiveProbability(), 0.0001)

	deal.DealSpecificProbability = nil
	assert.InDelta(t, 0.6, *deal.EffectiveProbability(), 0.0001)
}

func TestDealAdapter_RejectsInvalidProbability(t *testing.T) {
	for _, value := range []any{1.5, -0.1, "high"} {
		_, err := NewDealAdapter().ApplyStepMetadata(&models.Deal{}, &models.Step{Metadata: models.StepMetadata{
			models.MetadataDealProbability: value,
		}})
		assert.ErrorIs(t, err, ErrInvalidMetadata, "value %v", value)
	}
}

func TestLeadAdapter_ApplyStepMetadata(t *testing.T) {
	lead := &models.Lead{ID: "l1", StageName: "New"}

	patch, err := NewLeadAdapter().ApplyStepMetadata(lead, &models.Step{Metadata: models.StepMetadata{
		models.MetadataLeadQualified:          true,
		models.MetadataLeadQualificationLevel: 0.7,
		models.MetadataDealProbability:        0.2,
	}})
	require.NoError(t, err)

	patch.Apply(lead)

	assert.True(t, lead.IsQualified)
	assert.InDelta(t, 0.7, lead.QualificationLevel, 0.0001)
	assert.Equal(t, "New", lead.StageName)
}

func TestLeadAdapter_EmptyMetadata(t *testing.T) {
	patch, err := NewLeadAdapter().ApplyStepMetadata(&models.Lead{}, &models.Step{})
	require.NoError(t, err)
	assert.True(t, patch.Empty())
}

func TestLeadAdapter_RejectsInvalidMetadata(t *testing.T) {
	_, err := NewLeadAdapter().ApplyStepMetadata(&models.Lead{}, &models.Step{Metadata: models.StepMetadata{
		models.MetadataLeadQualified: "yes",
	}})
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = NewLeadAdapter().ApplyStepMetadata(&models.Lead{}, &models.Step{Metadata: models.StepMetadata{
		models.MetadataStageName: 42,
	}})
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestValidateMetadata(t *testing.T) {
	assert.NoError(t, ValidateMetadata(nil))
	assert.NoError(t, ValidateMetadata(models.StepMetadata{"anything": []any{1, 2}}))
	assert.ErrorIs(t, ValidateMetadata(models.StepMetadata{models.MetadataDealProbability: 2}), ErrInvalidMetadata)
	assert.ErrorIs(t, ValidateMetadata(models.StepMetadata{models.MetadataLeadQualificationLevel: -1}), ErrInvalidMetadata)
}
