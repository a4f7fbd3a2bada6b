package server

import (
	"encoding/json"

	"tuleapsync/internal/domain"
	"tuleapsync/internal/taskdata"
)

// Request payloads

type DevLoginRequest struct {
	Subject string   `json:"subject"`
	Scopes  []string `json:"scopes,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type WhoAmIResponse struct {
	Subject string   `json:"subject"`
	Scopes  []string `json:"scopes"`
	Source  string   `json:"source"`
}

type StatusResponse struct {
	ServerURL    string         `json:"server_url,omitempty"`
	TaskCounts   map[string]int `json:"task_counts"`
	LastEventID  int64          `json:"last_event_id"`
	SnapshotAt   string         `json:"snapshot_at,omitempty"`
	Projects     int            `json:"projects"`
	SnapshotUser string         `json:"snapshot_user,omitempty"`
}

type TaskResponse struct {
	Key       string `json:"key"`
	ProjectID int    `json:"project_id"`
	TrackerID int    `json:"tracker_id"`
	ItemID    int    `json:"item_id"`
	Kind      string `json:"kind"`
	Label     string `json:"label"`
	RemoteURL string `json:"remote_url,omitempty"`
	SyncedAt  string `json:"synced_at" format:"date-time"`
}

// TaskDetailResponse carries the attribute tree as the host renders it.
type TaskDetailResponse struct {
	TaskResponse
	Tree *taskdata.Attribute `json:"tree"`
}

type EventResponse struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	RunID   string         `json:"run_id"`
	TaskKey string         `json:"task_key,omitempty"`
	Payload map[string]any `json:"payload"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		Key:       t.Key,
		ProjectID: t.ProjectID,
		TrackerID: t.TrackerID,
		ItemID:    t.ItemID,
		Kind:      t.Kind,
		Label:     t.Label,
		RemoteURL: t.RemoteURL,
		SyncedAt:  t.SyncedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:      e.ID,
		TS:      e.TS,
		Type:    e.Type,
		RunID:   e.RunID,
		TaskKey: e.TaskKey,
		Payload: decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nonNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
