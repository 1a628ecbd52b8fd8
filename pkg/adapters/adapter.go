// Package adapters translates between the generic WFM engine and the concrete CRM entities it drives.
//
// Each adapter decides who may move its entity between steps and which entity fields a step's
// metadata sets. Adapters never validate transitions themselves; they rely on the progression
// service for that.
package adapters

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pipecrm/wfm/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidMetadata is returned when a step carries a known metadata key with an unusable value.
var ErrInvalidMetadata = errors.New("invalid step metadata")

// Patch is a set of field changes derived from a step, applied to an entity after a successful progression.
type Patch[E models.Entity] interface {
	Apply(entity E)
	Empty() bool
}

// Adapter is implemented once per entity kind. P is the entity's patch type.
type Adapter[E models.Entity, P Patch[E]] interface {
	Kind() models.EntityKind
	// AuthorizeProgression reports whether the actor may move the entity's project.
	AuthorizeProgression(entity E, actor models.Actor) bool
	// ApplyStepMetadata validates the keys this adapter reads and returns the resulting patch.
	// Unknown keys are ignored.
	ApplyStepMetadata(entity E, step *models.Step) (P, error)
}

// metadataSchema validates the metadata keys of one adapter. Additional properties are always allowed.
type metadataSchema struct {
	kind   models.EntityKind
	schema *gojsonschema.Schema
}

func mustSchema(kind models.EntityKind, properties map[string]any) metadataSchema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": true,
	}))
	if err != nil {
		panic(fmt.Sprintf("invalid %s metadata schema: %v", kind, err))
	}

	return metadataSchema{kind: kind, schema: schema}
}

func (s metadataSchema) validate(metadata models.StepMetadata) error {
	if metadata == nil {
		metadata = models.StepMetadata{}
	}

	result, err := s.schema.Validate(gojsonschema.NewGoLoader(map[string]any(metadata)))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			messages = append(messages, resultError.String())
		}

		return fmt.Errorf("%w for %s: %s", ErrInvalidMetadata, s.kind, strings.Join(messages, "; "))
	}

	return nil
}

// ValidateMetadata checks metadata against every adapter's documented keys.
// Workflows are not bound to an entity kind, so authoring validates against all of them.
func ValidateMetadata(metadata models.StepMetadata) error {
	for _, schema := range []metadataSchema{leadSchema, dealSchema} {
		err := schema.validate(metadata)
		if err != nil {
			return err
		}
	}

	return nil
}

// canProgress is the ownership rule shared by the built-in adapters.
func canProgress(entity models.Entity, actor models.Actor, blanketPermission string) bool {
	if actor.UserID == "" {
		return false
	}

	return entity.OwnerID() == actor.UserID ||
		(entity.AssigneeID() != "" && entity.AssigneeID() == actor.UserID) ||
		actor.Has(blanketPermission)
}
