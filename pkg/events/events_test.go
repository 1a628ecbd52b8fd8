package events

import (
	"encoding/json"
	"testing"

	"github.com/pipecrm/wfm/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepChanged_JSONFields(t *testing.T) {
	event := StepChanged{
		BaseEvent:      NewBaseEvent(StepChangedEvent, "user-1"),
		EntityID:       "deal-1",
		EntityKind:     models.EntityKindDeal,
		PreviousStepID: "a",
		NewStepID:      "b",
		ProjectID:      "p-1",
		WorkflowID:     "w-1",
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "wfm.step.changed", decoded["type"])
	assert.Equal(t, "deal-1", decoded["entity_id"])
	assert.Equal(t, "DEAL", decoded["entity_kind"])
	assert.Equal(t, "a", decoded["previous_step_id"])
	assert.Equal(t, "b", decoded["new_step_id"])
	assert.NotEmpty(t, decoded["id"])
	assert.Equal(t, StepChangedEvent, event.GetType())
}

func TestEntityEventType(t *testing.T) {
	tests := []struct {
		kind     models.EntityKind
		change   models.HistoryEventType
		expected EventType
		ok       bool
	}{
		{models.EntityKindLead, models.HistoryCreated, LeadCreatedEvent, true},
		{models.EntityKindLead, models.HistoryDeleted, LeadDeletedEvent, true},
		{models.EntityKindDeal, models.HistoryUpdated, DealUpdatedEvent, true},
		{models.EntityKindDeal, models.HistoryStepChanged, "", false},
		{models.EntityKindProject, models.HistoryCreated, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+string(tt.change), func(t *testing.T) {
			eventType, ok := EntityEventType(tt.kind, tt.change)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, eventType)
		})
	}
}

func TestEntityChanged_TypeFollowsBaseEvent(t *testing.T) {
	event := EntityChanged{BaseEvent: NewBaseEvent(LeadCreatedEvent, "u"), EntityID: "l-1", EntityKind: models.EntityKindLead}

	assert.Equal(t, LeadCreatedEvent, event.GetType())
}

func TestDecode(t *testing.T) {
	sent := EntityChanged{BaseEvent: NewBaseEvent(DealDeletedEvent, "u"), EntityID: "d-1", EntityKind: models.EntityKindDeal}

	payload, err := json.Marshal(sent)
	require.NoError(t, err)

	event, err := Decode(DealDeletedEvent, payload)
	require.NoError(t, err)
	require.IsType(t, &EntityChanged{}, event)
	assert.Equal(t, sent.ID, event.(*EntityChanged).GetID())
	assert.Equal(t, DealDeletedEvent, event.(*EntityChanged).GetType())

	event, err = Decode(StepChangedEvent, []byte(`{"new_step_id":"b"}`))
	require.NoError(t, err)
	assert.Equal(t, "b", event.(*StepChanged).NewStepID)

	_, err = Decode("unknown", []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownEventType)

	_, err = Decode(StepChangedEvent, []byte(`not json`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownEventType)
}
