// Package repo reads and writes the local mirror.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tuleapsync/internal/domain"
	"tuleapsync/internal/taskid"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const taskColumns = `task_key,project_id,tracker_id,item_id,kind,label,payload_json,remote_url,synced_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var payload string
	var remoteURL sql.NullString
	err := row.Scan(&t.Key, &t.ProjectID, &t.TrackerID, &t.ItemID, &t.Kind, &t.Label, &payload, &remoteURL, &t.SyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Payload = json.RawMessage(payload)
	if remoteURL.Valid {
		t.RemoteURL = remoteURL.String
	}
	return t, nil
}

// UpsertTask inserts the task or replaces the stored copy with the same key.
func (r Repo) UpsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if t.Key == "" {
		return errors.New("task key is required")
	}
	payload := string(t.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(task_key) DO UPDATE SET kind=excluded.kind, label=excluded.label, payload_json=excluded.payload_json,
remote_url=excluded.remote_url, synced_at=excluded.synced_at`,
		t.Key, t.ProjectID, t.TrackerID, t.ItemID, t.Kind, t.Label, payload, nullable(t.RemoteURL), t.SyncedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, key string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_key=?`, key))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, key string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_key=?`, key))
}

// DeleteTask removes a task from the mirror. The remote item is untouched.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, key string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE task_key=?`, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

type TaskFilters struct {
	ProjectID int
	TrackerID int
	Kind      string
	// Label matches as a case-insensitive substring.
	Label string
	Limit int
	// CursorKey is the last key of the previous page.
	CursorKey string
	// WithPayload loads the attribute trees too.
	WithPayload bool
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != 0 {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.TrackerID != 0 {
		clauses = append(clauses, "tracker_id=?")
		args = append(args, f.TrackerID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Label != "" {
		clauses = append(clauses, `LOWER(label) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(f.Label))+"%")
	}
	if f.CursorKey != "" {
		after, err := taskid.Parse(f.CursorKey)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		clauses = append(clauses, "(project_id, tracker_id, item_id) > (?, ?, ?)")
		args = append(args, after.ProjectID, after.TrackerID, after.ItemID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	columns := taskColumns
	if !f.WithPayload {
		columns = strings.Replace(columns, "payload_json", "'' AS payload_json", 1)
	}
	query := `SELECT ` + columns + ` FROM tasks ` + where + ` ORDER BY project_id, tracker_id, item_id, task_key`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if !f.WithPayload {
			t.Payload = nil
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountTasksByKind is used by the status summary.
func (r Repo) CountTasksByKind(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT kind, COUNT(*) FROM tasks GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		res[kind] = n
	}
	return res, rows.Err()
}

type EventFilters struct {
	Type    string
	RunID   string
	TaskKey string
}

func (f EventFilters) where(clauses []string, args []any) (string, []any) {
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.RunID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, f.RunID)
	}
	if f.TaskKey != "" {
		clauses = append(clauses, "task_key=?")
		args = append(args, f.TaskKey)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (r Repo) LatestEvents(ctx context.Context, limit int, f EventFilters) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, f)
}

// LatestEventsFrom lists events newest first, older than cursor when it is
// set.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, f EventFilters) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var clauses []string
	var args []any
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where, args := f.where(clauses, args)
	query := fmt.Sprintf(`SELECT id,ts,type,run_id,task_key,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	return r.queryEvents(ctx, query, append(args, limit)...)
}

// EventsAfter lists events oldest first, newer than cursor.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,run_id,task_key,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var taskKey sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RunID, &taskKey, &e.Payload); err != nil {
			return nil, err
		}
		if taskKey.Valid {
			e.TaskKey = taskKey.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// SaveServerSnapshot stores a configuration snapshot. Older snapshots are
// kept so a refresh can be compared with the previous one.
func (r Repo) SaveServerSnapshot(ctx context.Context, tx *sql.Tx, cfg domain.ServerConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal server snapshot: %w", err)
	}
	fetched := cfg.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now()
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO server_snapshots(url,payload_json,fetched_at) VALUES (?,?,?)`,
		cfg.URL, string(payload), fetched.UTC().Format(time.RFC3339))
	return err
}

// LatestServerSnapshot returns the newest snapshot for url, or for any server
// when url is empty.
func (r Repo) LatestServerSnapshot(ctx context.Context, url string) (domain.ServerConfig, error) {
	query := `SELECT payload_json FROM server_snapshots ORDER BY id DESC LIMIT 1`
	var args []any
	if url != "" {
		query = `SELECT payload_json FROM server_snapshots WHERE url=? ORDER BY id DESC LIMIT 1`
		args = append(args, url)
	}
	var payload string
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ServerConfig{}, ErrNotFound
	}
	if err != nil {
		return domain.ServerConfig{}, err
	}
	var cfg domain.ServerConfig
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return domain.ServerConfig{}, fmt.Errorf("decode server snapshot: %w", err)
	}
	return cfg, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
