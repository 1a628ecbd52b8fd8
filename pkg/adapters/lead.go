package adapters

import "github.com/pipecrm/wfm/pkg/models"

// Lead step metadata keys:
//
//	lead_qualified            bool           sets Lead.IsQualified
//	lead_qualification_level  number in 0..1 sets Lead.QualificationLevel
//	stage_name                string         sets Lead.StageName
//
// Absent keys leave the corresponding field unchanged.
var leadSchema = mustSchema(models.EntityKindLead, map[string]any{
	models.MetadataLeadQualified:          map[string]any{"type": "boolean"},
	models.MetadataLeadQualificationLevel: map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	models.MetadataStageName:              map[string]any{"type": "string"},
})

type LeadAdapter struct{}

var _ Adapter[*models.Lead, LeadPatch] = LeadAdapter{}

func NewLeadAdapter() LeadAdapter {
	return LeadAdapter{}
}

func (LeadAdapter) Kind() models.EntityKind {
	return models.EntityKindLead
}

// AuthorizeProgression allows the creator, the assignee, or anyone holding lead:update_any.
func (LeadAdapter) AuthorizeProgression(lead *models.Lead, actor models.Actor) bool {
	return canProgress(lead, actor, models.PermissionLeadUpdateAny)
}

func (LeadAdapter) ApplyStepMetadata(_ *models.Lead, step *models.Step) (LeadPatch, error) {
	var patch LeadPatch

	err := leadSchema.validate(step.Metadata)
	if err != nil {
		return patch, err
	}

	if qualified, ok := step.Metadata.Bool(models.MetadataLeadQualified); ok {
		patch.IsQualified = &qualified
	}

	if level, ok := step.Metadata.Number(models.MetadataLeadQualificationLevel); ok {
		patch.QualificationLevel = &level
	}

	if stage, ok := step.Metadata.String(models.MetadataStageName); ok {
		patch.StageName = &stage
	}

	return patch, nil
}

// LeadPatch holds the lead fields a step sets.
type LeadPatch = models.LeadStepFields
