package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuleapsync/internal/config"
	"tuleapsync/internal/trackertest"
)

// remoteWorkspace writes a workspace pointing at a fake tracker and switches
// the CLI to JSON output captured in the returned buffer.
func remoteWorkspace(t *testing.T) (*trackertest.Server, *bytes.Buffer) {
	t.Helper()
	srv := trackertest.New(t)
	srv.Expose("/api/tokens", trackertest.Caps{Allow: "OPTIONS, POST"})
	srv.JSON(http.MethodPost, "/api/tokens", http.StatusCreated, map[string]any{"user_id": 101, "token": "tok"})
	srv.RequireToken("tok")

	dir := t.TempDir()
	_, err := config.Write(dir, config.Default(srv.URL), false)
	require.NoError(t, err)

	viper.Set("workspace", dir)
	viper.Set("json", true)
	viper.Set("username", "alice")
	viper.Set("password", "secret")
	t.Cleanup(viper.Reset)

	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return srv, &buf
}

func run(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.ExecuteContext(context.Background())
}

func TestProjectReports(t *testing.T) {
	srv, out := remoteWorkspace(t)
	srv.Expose("/api/trackers/12/tracker_reports", trackertest.Caps{Allow: "OPTIONS, GET"})
	srv.Paged("/api/trackers/12/tracker_reports", []any{
		map[string]any{"id": 9, "label": "Open bugs", "is_public": true},
	})

	require.NoError(t, run(t, projectCmd(), "reports", "12"))
	var reports []struct {
		ID    int    `json:"id"`
		Label string `json:"label"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, 9, reports[0].ID)
	assert.Equal(t, "Open bugs", reports[0].Label)
}

func TestProjectReportRunsReport(t *testing.T) {
	srv, out := remoteWorkspace(t)
	srv.Expose("/api/trackers/12", trackertest.Caps{Allow: "OPTIONS, GET"})
	srv.JSON(http.MethodGet, "/api/trackers/12", http.StatusOK, map[string]any{
		"id": 12, "label": "Bugs", "project": map[string]any{"id": 3},
		"fields":    []any{map[string]any{"field_id": 1000, "name": "summary", "type": "string", "permissions": []string{"read"}}},
		"semantics": map[string]any{"title": map[string]any{"field_id": 1000}},
	})
	srv.Expose("/api/tracker_reports/9/artifacts", trackertest.Caps{Allow: "OPTIONS, GET"})
	srv.Paged("/api/tracker_reports/9/artifacts", []any{
		map[string]any{"id": 77, "tracker": map[string]any{"id": 12}, "project": map[string]any{"id": 3},
			"values": []any{map[string]any{"field_id": 1000, "value": "Login broken"}}},
	})

	require.NoError(t, run(t, projectCmd(), "report", "12", "9"))
	assert.Contains(t, out.String(), `"id": 77`)
	call, ok := srv.Last(http.MethodGet, "/api/tracker_reports/9/artifacts")
	require.True(t, ok)
	q, err := url.ParseQuery(call.RawQuery)
	require.NoError(t, err)
	assert.Equal(t, "all", q.Get("values"))
}

func TestMilestoneItemAndCard(t *testing.T) {
	srv, out := remoteWorkspace(t)
	srv.Expose("/api/backlog_items/31", trackertest.Caps{Allow: "OPTIONS, GET"})
	srv.JSON(http.MethodGet, "/api/backlog_items/31", http.StatusOK, map[string]any{"id": 31, "label": "Docs"})
	srv.Expose("/api/milestones/5/cardwall", trackertest.Caps{Allow: "OPTIONS, GET"})
	srv.JSON(http.MethodGet, "/api/milestones/5/cardwall", http.StatusOK, map[string]any{
		"columns": []any{map[string]any{"id": 1, "label": "Todo"}, map[string]any{"id": 2, "label": "Done"}},
		"swimlanes": []any{map[string]any{
			"backlog_item": map[string]any{"id": 31, "label": "Docs"},
			"cards":        []any{map[string]any{"id": "6_31", "label": "Write docs", "column_id": 1}},
		}},
	})
	srv.Expose("/api/cards/6_31", trackertest.Caps{Allow: "OPTIONS, GET, PUT"})
	srv.JSON(http.MethodPut, "/api/cards/6_31", http.StatusOK, nil)

	require.NoError(t, run(t, milestoneCmd(), "item", "31"))
	assert.Contains(t, out.String(), `"label": "Docs"`)

	require.NoError(t, run(t, milestoneCmd(), "card", "5", "6_31", "--column", "2"))
	call, ok := srv.Last(http.MethodPut, "/api/cards/6_31")
	require.True(t, ok)
	assert.JSONEq(t, `{"label":"Write docs","column_id":2,"values":[]}`, string(call.Body))

	assert.ErrorContains(t, run(t, milestoneCmd(), "card", "5", "6_31", "--column", "7"), "no column 7")
	assert.ErrorContains(t, run(t, milestoneCmd(), "card", "5", "9_99", "--label", "x"), "not on the cardwall")
}
