// Package events appends audit rows for committed mutations. Every engine
// transaction writes exactly one event before commit, so the event stream
// doubles as the outbound webhook feed.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventPayload carries event-specific detail, stored as JSON.
type EventPayload map[string]any

// Writer appends events inside the caller's transaction. A zero Writer with
// DB set is ready to use; Now exists for tests.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) timestamp() string {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	return now().UTC().Format(time.RFC3339)
}

// Append records one event in tx. ProjectID and entityID may be empty for
// global events such as user registration.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if evtType == "" {
		return fmt.Errorf("event type is required")
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		w.timestamp(), evtType, emptyAsNull(projectID), entityKind, emptyAsNull(entityID), actorID, string(data))
	return err
}

func emptyAsNull(v string) any {
	if v == "" {
		return nil
	}
	return v
}
