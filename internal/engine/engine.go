// Package engine synchronizes the local mirror with the remote tracker.
// Every public operation is one sync run: it gets a run id, talks to the
// server, then writes the mirror and the matching events in one transaction.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tuleapsync/internal/client"
	"tuleapsync/internal/domain"
	"tuleapsync/internal/events"
	"tuleapsync/internal/repo"
	"tuleapsync/internal/taskdata"
	"tuleapsync/internal/taskid"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Client *client.Client
	Now    func() time.Time
	Logger *slog.Logger
}

func New(db *sql.DB, c *client.Client, logger *slog.Logger) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Client: c,
		Now:    time.Now,
		Logger: logger,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

func newRunID() string { return uuid.NewString() }

// ErrNotPulled is returned when an operation needs a task the mirror does
// not hold yet.
var ErrNotPulled = errors.New("task not in the local mirror")

// withTx runs fn in a transaction committed only when fn succeeds.
func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) session(ctx context.Context) error {
	if e.Client == nil {
		return errors.New("engine has no client")
	}
	return e.Client.EnsureSession(ctx)
}

// RefreshServer fetches and stores a new configuration snapshot.
func (e Engine) RefreshServer(ctx context.Context) (domain.ServerConfig, error) {
	if err := e.session(ctx); err != nil {
		return domain.ServerConfig{}, err
	}
	run := newRunID()
	cfg, err := e.Client.GetServer(ctx)
	if err != nil {
		return domain.ServerConfig{}, fmt.Errorf("fetch server configuration: %w", err)
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.SaveServerSnapshot(ctx, tx, cfg); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.ServerRefresh, run, "", events.EventPayload{
			"url":      cfg.URL,
			"projects": len(cfg.Projects),
			"users":    len(cfg.Users),
		})
	})
	if err != nil {
		return domain.ServerConfig{}, err
	}
	e.log().LogAttrs(ctx, slog.LevelInfo, "server refreshed", slog.String("run_id", run), slog.Int("projects", len(cfg.Projects)))
	return cfg, nil
}

// Server returns the latest stored snapshot of the configured server,
// refreshing it when none is stored.
func (e Engine) Server(ctx context.Context) (domain.ServerConfig, error) {
	url := ""
	if e.Client != nil {
		url = e.Client.ServerURL()
	}
	cfg, err := e.Repo.LatestServerSnapshot(ctx, url)
	if errors.Is(err, repo.ErrNotFound) {
		return e.RefreshServer(ctx)
	}
	return cfg, err
}

func (e Engine) tracker(ctx context.Context, server domain.ServerConfig, id int) (domain.Tracker, error) {
	if t, ok := server.Tracker(id); ok {
		return t, nil
	}
	e.log().LogAttrs(ctx, slog.LevelDebug, "tracker not in snapshot", slog.Int("tracker_id", id))
	return e.Client.GetTracker(ctx, id)
}

// Task loads the attribute tree of a mirrored task.
func (e Engine) Task(ctx context.Context, key string) (*taskdata.Attribute, error) {
	t, err := e.Repo.GetTask(ctx, key)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotPulled)
	}
	if err != nil {
		return nil, err
	}
	var root taskdata.Attribute
	if err := json.Unmarshal(t.Payload, &root); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", key, err)
	}
	return &root, nil
}

// RemoveTask drops a task from the mirror.
func (e Engine) RemoveTask(ctx context.Context, key string) error {
	run := newRunID()
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTask(ctx, tx, key); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.TaskRemoved, run, key, nil)
	})
}

func (e Engine) record(root *taskdata.Attribute, label, remoteURL string) (domain.Task, error) {
	id, err := taskdata.TaskKey(root)
	if err != nil {
		return domain.Task{}, err
	}
	payload, err := json.Marshal(root)
	if err != nil {
		return domain.Task{}, fmt.Errorf("encode task %s: %w", id, err)
	}
	return domain.Task{
		Key:       id.String(),
		ProjectID: id.ProjectID,
		TrackerID: id.TrackerID,
		ItemID:    id.ItemID,
		Kind:      taskdata.Kind(root),
		Label:     label,
		Payload:   payload,
		RemoteURL: remoteURL,
		SyncedAt:  e.now().UTC().Format(time.RFC3339),
	}, nil
}

// store upserts t and appends evtType for it.
func (e Engine) store(ctx context.Context, tx *sql.Tx, run, evtType string, t domain.Task) error {
	if err := e.Repo.UpsertTask(ctx, tx, t); err != nil {
		return fmt.Errorf("store %s: %w", t.Key, err)
	}
	return e.events().Append(ctx, tx, evtType, run, t.Key, events.EventPayload{"kind": t.Kind, "label": t.Label})
}

// storeStub stores a thin task seen through a planning. An existing task is
// only replaced when it is a backlog item stub too.
func (e Engine) storeStub(ctx context.Context, tx *sql.Tx, run string, t domain.Task) error {
	existing, err := e.Repo.GetTaskTx(ctx, tx, t.Key)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return err
	case existing.Kind != taskdata.KindBacklogItem || t.Kind != taskdata.KindBacklogItem:
		return nil
	}
	return e.store(ctx, tx, run, events.TaskPulled, t)
}

func parseKey(key string) (taskid.ID, error) {
	id, err := taskid.Parse(key)
	if err != nil {
		return taskid.ID{}, err
	}
	if id.IsNew() {
		return taskid.ID{}, fmt.Errorf("%s has no remote item yet", key)
	}
	return id, nil
}
