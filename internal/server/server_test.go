package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuleapsync/internal/client"
	"tuleapsync/internal/db"
	"tuleapsync/internal/domain"
	"tuleapsync/internal/engine"
	"tuleapsync/internal/migrate"
	"tuleapsync/internal/rest"
	"tuleapsync/internal/taskdata"
	"tuleapsync/internal/taskid"
	"tuleapsync/internal/trackertest"
)

const testSecret = "test-secret"

type testServer struct {
	URL     string
	Engine  engine.Engine
	Tracker *trackertest.Server
}

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	tracker := trackertest.New(t)
	tracker.Expose("/api/tokens", trackertest.Caps{Allow: "OPTIONS, POST"})
	tracker.JSON(http.MethodPost, "/api/tokens", http.StatusCreated, map[string]any{"user_id": 101, "token": "tok"})

	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := client.New(client.Config{
		ServerURL:   tracker.URL,
		Timeout:     5 * time.Second,
		Credentials: client.StaticCredentials{Username: "alice", Password: "secret"},
		Logger:      logger,
	})
	e := engine.New(conn, c, logger)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth, Logger: logger})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, Engine: e, Tracker: tracker}
}

func doJSON(t *testing.T, method, url string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func login(t *testing.T, srv *testServer) string {
	t.Helper()
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"subject": "ui"}, "")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func seed(t *testing.T, e engine.Engine, tasks ...domain.Task) {
	t.Helper()
	ctx := context.Background()
	tx, err := e.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func(tx *sql.Tx) { _ = tx.Rollback() }(tx)
	for _, tk := range tasks {
		root := taskdata.NewRoot()
		root.Add(taskdata.KeyTaskKey, taskdata.TypeTaskKey).SetValue(tk.Key)
		payload, err := json.Marshal(root)
		require.NoError(t, err)
		tk.Payload = payload
		require.NoError(t, e.Repo.UpsertTask(ctx, tx, tk))
	}
	require.NoError(t, tx.Commit())
}

func mirrored(key string, project, tracker, item int, label string) domain.Task {
	return domain.Task{
		Key: key, ProjectID: project, TrackerID: tracker, ItemID: item,
		Kind: taskdata.KindArtifact, Label: label, SyncedAt: "2024-01-01T00:00:00Z",
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/health", nil, "")
	assert.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/tasks", nil, "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/tasks", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	forged, _, err := signDevToken("other-secret", "mallory", nil, time.Now(), time.Hour)
	require.NoError(t, err)
	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/tasks", nil, forged)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestDevLoginAndMe(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"subject": " "}, "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "bad_request", errorCode(t, data))

	token := login(t, srv)
	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, WhoAmIResponse{Subject: "ui", Scopes: []string{}, Source: "jwt"}, me)
}

func TestDevLoginWithoutSecret(t *testing.T) {
	srv := newTestServer(t, AuthConfig{Disabled: true})
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"subject": "ui"}, "")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "internal_error", errorCode(t, data))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, "")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Contains(t, string(data), `"subject":"local"`)
}

func TestListAndGetTasks(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	seed(t, srv.Engine,
		mirrored("3:12#1", 3, 12, 1, "Crash on start"),
		mirrored("3:12#2", 3, 12, 2, "Login broken"),
		mirrored("4:20#1", 4, 20, 1, "Other project"),
	)
	token := login(t, srv)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/tasks?limit=2", nil, token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedTasks
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, "3:12#2", page.NextCursor)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/tasks?limit=2&cursor="+url.QueryEscape(page.NextCursor), nil, token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page = paginatedTasks{}
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "4:20#1", page.Items[0].Key)
	assert.Empty(t, page.NextCursor)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/tasks?project_id=3&label=login", nil, token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page = paginatedTasks{}
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Login broken", page.Items[0].Label)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/tasks/"+url.PathEscape("3:12#2"), nil, token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var detail TaskDetailResponse
	require.NoError(t, json.Unmarshal(data, &detail))
	assert.Equal(t, "3:12#2", detail.Key)
	require.NotNil(t, detail.Tree)
	assert.Equal(t, "3:12#2", detail.Tree.Child(taskdata.KeyTaskKey).Value())

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/tasks/"+url.PathEscape("3:12#9"), nil, token)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, data))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/tasks/garbage", nil, token)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "bad_request", errorCode(t, data))
}

func TestDeleteTask(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	seed(t, srv.Engine, mirrored("3:12#1", 3, 12, 1, "Crash on start"))
	token := login(t, srv)

	res, data := doJSON(t, http.MethodDelete, srv.URL+"/v0/tasks/"+url.PathEscape("3:12#1"), nil, token)
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))
	res, _ = doJSON(t, http.MethodDelete, srv.URL+"/v0/tasks/"+url.PathEscape("3:12#1"), nil, token)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func exposeArtifact(tracker *trackertest.Server) {
	list := func(path string, items ...any) {
		tracker.Expose(path, trackertest.Caps{Allow: "OPTIONS, GET"})
		if items == nil {
			items = []any{}
		}
		tracker.Paged(path, items)
	}
	tracker.Expose("/api/users/self", trackertest.Caps{Allow: "OPTIONS, GET"})
	tracker.JSON(http.MethodGet, "/api/users/self", http.StatusOK, map[string]any{"id": 101, "username": "alice"})
	list("/api/projects", map[string]any{"id": 3, "label": "Sync"})
	list("/api/projects/3/plannings")
	list("/api/projects/3/user_groups")
	list("/api/projects/3/trackers", map[string]any{
		"id": 12, "label": "Bugs",
		"project": map[string]any{"id": 3},
		"fields": []any{
			map[string]any{"field_id": 1000, "name": "summary", "label": "Summary", "type": "string", "permissions": []string{"read", "update"}},
		},
		"semantics": map[string]any{"title": map[string]any{"field_id": 1000}},
	})
	tracker.Expose("/api/artifacts/77", trackertest.Caps{Allow: "OPTIONS, GET, PUT"})
	tracker.JSON(http.MethodGet, "/api/artifacts/77", http.StatusOK, map[string]any{
		"id": 77, "tracker": map[string]any{"id": 12}, "project": map[string]any{"id": 3},
		"values": []any{map[string]any{"field_id": 1000, "value": "Login broken"}},
	})
	list("/api/artifacts/77/changesets")
}

func TestPullTaskAndEvents(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	exposeArtifact(srv.Tracker)
	token := login(t, srv)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/tasks/"+url.PathEscape("3:12#77")+"/pull", nil, token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var task TaskResponse
	require.NoError(t, json.Unmarshal(data, &task))
	assert.Equal(t, "3:12#77", task.Key)
	assert.Equal(t, "Login broken", task.Label)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/events?limit=1", nil, token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "task.pulled", page.Items[0].Type)
	assert.Equal(t, "3:12#77", page.Items[0].TaskKey)
	assert.Equal(t, "artifact", page.Items[0].Payload["kind"])
	require.NotEmpty(t, page.NextCursor)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/events?cursor="+page.NextCursor, nil, token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page = paginatedEvents{}
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "server.refreshed", page.Items[0].Type)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, token)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "bad_request", errorCode(t, data))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/status", nil, token)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var status StatusResponse
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, map[string]int{"artifact": 1}, status.TaskCounts)
	assert.Equal(t, 1, status.Projects)
	assert.Equal(t, "alice", status.SnapshotUser)
}

func TestPullMapsRemoteErrors(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	exposeArtifact(srv.Tracker)
	srv.Tracker.Expose("/api/artifacts/78", trackertest.Caps{Allow: "OPTIONS, GET"})
	srv.Tracker.On(http.MethodGet, "/api/artifacts/78", func(w http.ResponseWriter, r *http.Request) {
		trackertest.WriteError(w, http.StatusInternalServerError, "boom")
	})
	token := login(t, srv)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/tasks/"+url.PathEscape("3:12#78")+"/pull", nil, token)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, "remote_error", errorCode(t, data))
	assert.Contains(t, string(data), "boom")
}

func TestOpenAPIIsServed(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/openapi.json", nil, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc struct {
		Paths map[string]map[string]struct {
			Security []map[string][]string `json:"security"`
		} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Contains(t, doc.Paths, "/v0/tasks/{key}/pull")
	assert.NotEmpty(t, doc.Paths["/v0/tasks"]["get"].Security)
	assert.Empty(t, doc.Paths["/v0/health"]["get"].Security)
}

func TestHandleErrorMapping(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		code   string
	}{
		"not pulled":    {fmt.Errorf("3:12#1: %w", engine.ErrNotPulled), http.StatusNotFound, "not_found"},
		"malformed key": {&taskid.MalformedError{Token: "x", Reason: "bad"}, http.StatusBadRequest, "bad_request"},
		"remote 401":    {&rest.AuthenticationError{Err: &rest.ServerError{StatusCode: 401, Message: "expired"}}, http.StatusUnauthorized, "remote_unauthorized"},
		"no creds":      {client.ErrNoCredentials, http.StatusUnauthorized, "remote_unauthorized"},
		"unsupported":   {&rest.UnsupportedOperationError{Method: "DELETE", URL: "/api/projects"}, http.StatusInternalServerError, "internal_error"},
		"remote 500":    {&rest.ServerError{StatusCode: 500, Message: "boom"}, http.StatusBadGateway, "remote_error"},
		"other":         {errors.New("disk full"), http.StatusInternalServerError, "internal_error"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := handleError(context.Background(), tc.err)
			require.NotNil(t, got)
			assert.Equal(t, tc.status, got.GetStatus())
			assert.Equal(t, tc.code, got.(*apiError).Body.Code)
		})
	}
	assert.Nil(t, handleError(context.Background(), nil))
}

func TestUnsupportedOperationIsLoggedNotReturned(t *testing.T) {
	var logs bytes.Buffer
	ctx := context.WithValue(context.Background(), loggerKey{}, slog.New(slog.NewTextHandler(&logs, nil)))

	got := handleError(ctx, fmt.Errorf("list: %w", &rest.UnsupportedOperationError{Method: "DELETE", URL: "/api/projects"}))
	body, err := json.Marshal(got)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "/api/projects")
	assert.Equal(t, "internal client error", got.(*apiError).Body.Message)
	assert.Nil(t, got.(*apiError).Body.Details)
	assert.Contains(t, logs.String(), "unsupported operation")
	assert.Contains(t, logs.String(), "/api/projects")
}
