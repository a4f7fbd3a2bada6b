package repo_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuleapsync/internal/db"
	"tuleapsync/internal/domain"
	"tuleapsync/internal/events"
	"tuleapsync/internal/migrate"
	"tuleapsync/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}, conn
}

func inTx(t *testing.T, conn *sql.DB, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := conn.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, fn(tx))
	require.NoError(t, tx.Commit())
}

func task(key string, project, tracker, item int, label string) domain.Task {
	return domain.Task{
		Key: key, ProjectID: project, TrackerID: tracker, ItemID: item,
		Kind: "artifact", Label: label,
		Payload:  json.RawMessage(`{"id":"root","type":"container"}`),
		SyncedAt: "2024-01-01T00:00:00Z",
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	_, conn := newTestRepo(t)
	require.NoError(t, migrate.Migrate(conn))
	v, err := migrate.Version(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, migrate.Latest(), v)
	assert.Positive(t, v)
}

func TestUpsertAndGetTask(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()

	_, err := r.GetTask(ctx, "3:12#1")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	inTx(t, conn, func(tx *sql.Tx) error { return r.UpsertTask(ctx, tx, task("3:12#1", 3, 12, 1, "first")) })
	updated := task("3:12#1", 3, 12, 1, "renamed")
	updated.RemoteURL = "https://tuleap.example/plugins/tracker/?aid=1"
	inTx(t, conn, func(tx *sql.Tx) error { return r.UpsertTask(ctx, tx, updated) })

	got, err := r.GetTask(ctx, "3:12#1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Label)
	assert.Equal(t, updated.RemoteURL, got.RemoteURL)
	assert.JSONEq(t, `{"id":"root","type":"container"}`, string(got.Payload))
}

func TestListTasksFilters(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()
	inTx(t, conn, func(tx *sql.Tx) error {
		for _, tk := range []domain.Task{
			task("3:12#2", 3, 12, 2, "Login broken"),
			task("3:12#1", 3, 12, 1, "Crash on start"),
			task("3:13#5", 3, 13, 5, "Story"),
			task("4:20#1", 4, 20, 1, "Other project"),
		} {
			if err := r.UpsertTask(ctx, tx, tk); err != nil {
				return err
			}
		}
		m := task("3:7#50", 3, 7, 50, "Release 1")
		m.Kind = "milestone"
		return r.UpsertTask(ctx, tx, m)
	})

	all, err := r.ListTasks(ctx, repo.TaskFilters{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Nil(t, all[0].Payload)

	byTracker, err := r.ListTasks(ctx, repo.TaskFilters{ProjectID: 3, TrackerID: 12, WithPayload: true})
	require.NoError(t, err)
	require.Len(t, byTracker, 2)
	assert.Equal(t, "3:12#1", byTracker[0].Key)
	assert.NotEmpty(t, byTracker[0].Payload)

	milestones, err := r.ListTasks(ctx, repo.TaskFilters{Kind: "milestone"})
	require.NoError(t, err)
	require.Len(t, milestones, 1)

	byLabel, err := r.ListTasks(ctx, repo.TaskFilters{Label: "CRASH"})
	require.NoError(t, err)
	require.Len(t, byLabel, 1)
	assert.Equal(t, "3:12#1", byLabel[0].Key)

	counts, err := r.CountTasksByKind(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"artifact": 4, "milestone": 1}, counts)

	page, err := r.ListTasks(ctx, repo.TaskFilters{Limit: 2, CursorKey: "3:12#1"})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "3:12#2", page[0].Key)
	assert.Equal(t, "3:13#5", page[1].Key)

	_, err = r.ListTasks(ctx, repo.TaskFilters{CursorKey: "nope"})
	assert.Error(t, err)
}

func TestDeleteTask(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()
	inTx(t, conn, func(tx *sql.Tx) error { return r.UpsertTask(ctx, tx, task("3:12#1", 3, 12, 1, "x")) })
	inTx(t, conn, func(tx *sql.Tx) error { return r.DeleteTask(ctx, tx, "3:12#1") })

	tx, err := conn.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	assert.ErrorIs(t, r.DeleteTask(ctx, tx, "3:12#1"), repo.ErrNotFound)
}

func TestEventsPaging(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()
	w := events.Writer{DB: conn, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	inTx(t, conn, func(tx *sql.Tx) error {
		for i, key := range []string{"3:12#1", "3:12#2", "3:12#1"} {
			run := "run-a"
			if i == 2 {
				run = "run-b"
			}
			if err := w.Append(ctx, tx, events.TaskPulled, run, key, events.EventPayload{"n": i}); err != nil {
				return err
			}
		}
		return w.Append(ctx, tx, events.ServerRefresh, "run-b", "", nil)
	})

	latest, err := r.LatestEvents(ctx, 2, repo.EventFilters{})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, events.ServerRefresh, latest[0].Type)
	assert.Empty(t, latest[0].TaskKey)
	assert.Equal(t, "2024-01-01T00:00:00Z", latest[0].TS)

	older, err := r.LatestEventsFrom(ctx, 10, latest[1].ID, repo.EventFilters{})
	require.NoError(t, err)
	assert.Len(t, older, 2)

	forTask, err := r.LatestEvents(ctx, 10, repo.EventFilters{TaskKey: "3:12#1"})
	require.NoError(t, err)
	assert.Len(t, forTask, 2)

	forRun, err := r.LatestEvents(ctx, 10, repo.EventFilters{RunID: "run-b"})
	require.NoError(t, err)
	assert.Len(t, forRun, 2)

	after, err := r.EventsAfter(ctx, 10, older[len(older)-1].ID)
	require.NoError(t, err)
	assert.Len(t, after, 3)

	maxID, err := r.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest[0].ID, maxID)
}

func TestAppendRequiresRunID(t *testing.T) {
	_, conn := newTestRepo(t)
	tx, err := conn.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	err = events.Writer{DB: conn}.Append(context.Background(), tx, events.TaskPulled, "", "3:12#1", nil)
	assert.Error(t, err)
}

func TestServerSnapshots(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()

	_, err := r.LatestServerSnapshot(ctx, "")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	first := domain.ServerConfig{URL: "https://a.example", Self: domain.User{ID: 1, Username: "me"}, FetchedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	second := domain.ServerConfig{
		URL:       "https://a.example",
		Self:      domain.User{ID: 1, Username: "me"},
		Projects:  []domain.Project{{ID: 3, Label: "Demo"}},
		FetchedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	other := domain.ServerConfig{URL: "https://b.example", FetchedAt: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)}
	for _, cfg := range []domain.ServerConfig{first, second, other} {
		inTx(t, conn, func(tx *sql.Tx) error { return r.SaveServerSnapshot(ctx, tx, cfg) })
	}

	got, err := r.LatestServerSnapshot(ctx, "https://a.example")
	require.NoError(t, err)
	require.Len(t, got.Projects, 1)
	assert.Equal(t, "Demo", got.Projects[0].Label)
	assert.True(t, second.FetchedAt.Equal(got.FetchedAt))

	newest, err := r.LatestServerSnapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "https://b.example", newest.URL)
}

func TestListTasksLabelIsLiteral(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()
	inTx(t, conn, func(tx *sql.Tx) error {
		for _, tk := range []domain.Task{
			task("3:12#1", 3, 12, 1, "100% done"),
			task("3:12#2", 3, 12, 2, "100 done"),
			task("3:12#3", 3, 12, 3, "fix a_b"),
			task("3:12#4", 3, 12, 4, "fix axb"),
			task("3:12#5", 3, 12, 5, `path c:\tmp`),
		} {
			if err := r.UpsertTask(ctx, tx, tk); err != nil {
				return err
			}
		}
		return nil
	})

	keys := func(label string) []string {
		got, err := r.ListTasks(ctx, repo.TaskFilters{Label: label})
		require.NoError(t, err)
		var out []string
		for _, tk := range got {
			out = append(out, tk.Key)
		}
		return out
	}
	assert.Equal(t, []string{"3:12#1"}, keys("0%"))
	assert.Equal(t, []string{"3:12#3"}, keys("a_b"))
	assert.Equal(t, []string{"3:12#5"}, keys(`c:\tmp`))
	assert.Len(t, keys("done"), 2)
}
