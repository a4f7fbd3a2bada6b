// Package events appends entries to the sync log.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	TaskPulled     = "task.pulled"
	TaskCreated    = "task.created"
	TaskUpdated    = "task.updated"
	TaskRemoved    = "task.removed"
	PlanningPushed = "planning.pushed"
	ServerRefresh  = "server.refreshed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside tx. An empty taskKey is stored as NULL.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, runID, taskKey string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if runID == "" {
		return fmt.Errorf("event %s has no run id", evtType)
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,run_id,task_key,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, runID, nullable(taskKey), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
