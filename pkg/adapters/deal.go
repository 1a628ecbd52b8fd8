package adapters

import "github.com/pipecrm/wfm/pkg/models"

// Deal step metadata keys:
//
//	deal_probability  number in 0..1 sets Deal.StepProbability
//	stage_name        string         sets Deal.StageName
//
// The deal's effective probability is its own override when set, otherwise the step probability.
var dealSchema = mustSchema(models.EntityKindDeal, map[string]any{
	models.MetadataDealProbability: map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	models.MetadataStageName:       map[string]any{"type": "string"},
})

type DealAdapter struct{}

var _ Adapter[*models.Deal, DealPatch] = DealAdapter{}

func NewDealAdapter() DealAdapter {
	return DealAdapter{}
}

func (DealAdapter) Kind() models.EntityKind {
	return models.EntityKindDeal
}

// AuthorizeProgression allows the creator, the assignee, or anyone holding deal:update_any.
func (DealAdapter) AuthorizeProgression(deal *models.Deal, actor models.Actor) bool {
	return canProgress(deal, actor, models.PermissionDealUpdateAny)
}

func (DealAdapter) ApplyStepMetadata(_ *models.Deal, step *models.Step) (DealPatch, error) {
	var patch DealPatch

	err := dealSchema.validate(step.Metadata)
	if err != nil {
		return patch, err
	}

	if probability, ok := step.Metadata.Number(models.MetadataDealProbability); ok {
		patch.StepProbability = &probability
	}

	if stage, ok := step.Metadata.String(models.MetadataStageName); ok {
		patch.StageName = &stage
	}

	return patch, nil
}

// DealPatch holds the deal fields a step sets.
type DealPatch = models.DealStepFields
