// Package events defines the notifications the WFM engine emits to the external job and notification sink.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pipecrm/wfm/pkg/models"
)

type EventType string

// Topic is the watermill topic every WFM event is published on.
const Topic = "wfm.events"

// Transport metadata keys set by every event bus.
const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
	EventIDMetadataKey   = "event_id"
)

// ErrUnknownEventType is returned when decoding a payload of a type this package does not define.
var ErrUnknownEventType = errors.New("unknown event type")

const (
	// StepChangedEvent is emitted after a successful step progression.
	StepChangedEvent EventType = "wfm.step.changed"

	// Entity lifecycle events.
	LeadCreatedEvent EventType = "lead.created"
	LeadUpdatedEvent EventType = "lead.updated"
	LeadDeletedEvent EventType = "lead.deleted"
	DealCreatedEvent EventType = "deal.created"
	DealUpdatedEvent EventType = "deal.updated"
	DealDeletedEvent EventType = "deal.deleted"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	ActorID   string         `json:"actor_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (e BaseEvent) GetID() string {
	return e.ID
}

// NewBaseEvent creates a base event with a fresh id and the current time.
func NewBaseEvent(eventType EventType, actorID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ActorID:   actorID,
	}
}

// StepChanged carries a committed move of a project between two steps.
type StepChanged struct {
	BaseEvent

	EntityID       string            `json:"entity_id"`
	EntityKind     models.EntityKind `json:"entity_kind"`
	PreviousStepID string            `json:"previous_step_id"`
	NewStepID      string            `json:"new_step_id"`
	ProjectID      string            `json:"project_id"`
	WorkflowID     string            `json:"workflow_id"`
}

func (s StepChanged) GetType() EventType {
	return StepChangedEvent
}

// EntityChanged is emitted on lead and deal create, update and delete.
type EntityChanged struct {
	BaseEvent

	EntityID     string            `json:"entity_id"`
	EntityKind   models.EntityKind `json:"entity_kind"`
	WFMProjectID string            `json:"wfm_project_id,omitempty"`
}

func (e EntityChanged) GetType() EventType {
	return e.Type
}

// EntityEventType returns the lifecycle event type for an entity kind and history event type.
// It returns false for combinations that have no event.
func EntityEventType(kind models.EntityKind, change models.HistoryEventType) (EventType, bool) {
	types := map[models.EntityKind]map[models.HistoryEventType]EventType{
		models.EntityKindLead: {
			models.HistoryCreated: LeadCreatedEvent,
			models.HistoryUpdated: LeadUpdatedEvent,
			models.HistoryDeleted: LeadDeletedEvent,
		},
		models.EntityKindDeal: {
			models.HistoryCreated: DealCreatedEvent,
			models.HistoryUpdated: DealUpdatedEvent,
			models.HistoryDeleted: DealDeletedEvent,
		},
	}

	eventType, ok := types[kind][change]

	return eventType, ok
}

// Decode unmarshals a payload into the concrete event of the given type and returns a pointer to it.
func Decode(eventType EventType, payload []byte) (any, error) {
	var event any

	switch eventType {
	case StepChangedEvent:
		event = &StepChanged{}
	case LeadCreatedEvent, LeadUpdatedEvent, LeadDeletedEvent,
		DealCreatedEvent, DealUpdatedEvent, DealDeletedEvent:
		event = &EntityChanged{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	err := json.Unmarshal(payload, event)
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", eventType, err)
	}

	return event, nil
}
