package domain

import "encoding/json"

// Task is a remote item as stored in the local mirror. Payload holds the
// attribute tree of the item.
type Task struct {
	Key       string          `json:"key"`
	ProjectID int             `json:"project_id"`
	TrackerID int             `json:"tracker_id"`
	ItemID    int             `json:"item_id"`
	Kind      string          `json:"kind"`
	Label     string          `json:"label"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RemoteURL string          `json:"remote_url,omitempty"`
	SyncedAt  string          `json:"synced_at"`
}

// Event is one entry of the sync log.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	RunID   string `json:"run_id"`
	TaskKey string `json:"task_key,omitempty"`
	Payload string `json:"payload"`
}
