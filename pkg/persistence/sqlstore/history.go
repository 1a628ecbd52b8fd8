package sqlstore

import (
	"context"
	"fmt"

	"github.com/pipecrm/wfm/pkg/models"
)

// HistoryRepository appends and reads audit entries. It never updates or deletes.
type HistoryRepository struct {
	repo
}

// Append inserts an entry.
func (r *HistoryRepository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	if entry.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		entry.ID = id
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now()
	}

	if entry.Payload == nil {
		entry.Payload = map[string]any{}
	}

	payloadJSON, err := marshalJSON(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal history payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx, r.q(`
		INSERT INTO wfm_history (id, entity_id, entity_kind, actor_user_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`),
		entry.ID,
		entry.EntityID,
		string(entry.EntityKind),
		entry.ActorUserID,
		string(entry.EventType),
		payloadJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	return nil
}

// ListByEntity returns an entity's entries oldest first.
func (r *HistoryRepository) ListByEntity(ctx context.Context, kind models.EntityKind, entityID string) ([]*models.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, entity_id, entity_kind, actor_user_id, event_type, payload, created_at
		FROM wfm_history
		WHERE entity_kind = $1 AND entity_id = $2
		ORDER BY created_at, id
	`), string(kind), entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	defer r.closeRows(ctx, rows)

	entries := make([]*models.HistoryEntry, 0)

	for rows.Next() {
		var (
			entry       models.HistoryEntry
			entityKind  string
			eventType   string
			payloadJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.EntityID,
			&entityKind,
			&entry.ActorUserID,
			&eventType,
			&payloadJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}

		entry.EntityKind = models.EntityKind(entityKind)
		entry.EventType = models.HistoryEventType(eventType)

		entry.Payload, err = unmarshalJSON[map[string]any](payloadJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal history payload: %w", err)
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return entries, nil
}
