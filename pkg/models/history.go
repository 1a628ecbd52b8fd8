package models

import "time"

// EntityKind identifies the type of entity a history entry or event refers to.
type EntityKind string

const (
	EntityKindLead    EntityKind = "LEAD"
	EntityKindDeal    EntityKind = "DEAL"
	EntityKindProject EntityKind = "WFM_PROJECT"
)

// HistoryEventType is the kind of change recorded in the audit trail.
type HistoryEventType string

const (
	HistoryStepChanged HistoryEventType = "WFM_STEP_CHANGED"
	HistoryCreated     HistoryEventType = "CREATED"
	HistoryUpdated     HistoryEventType = "UPDATED"
	HistoryDeleted     HistoryEventType = "DELETED"
)

// Payload keys present on every WFM_STEP_CHANGED entry.
const (
	PayloadPreviousStepID = "previousStepId"
	PayloadNewStepID      = "newStepId"
	PayloadWorkflowID     = "workflowId"
	PayloadProjectID      = "projectId"
)

// HistoryEntry is an append-only audit record. Entries are never updated or deleted.
type HistoryEntry struct {
	ID          string           `json:"id"`
	EntityID    string           `json:"entity_id"`
	EntityKind  EntityKind       `json:"entity_kind"`
	ActorUserID string           `json:"actor_user_id"`
	EventType   HistoryEventType `json:"event_type"`
	Payload     map[string]any   `json:"payload"`
	CreatedAt   time.Time        `json:"created_at"`
}

// EntityRef points at the business entity that owns a project.
type EntityRef struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
}
