package main

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuleapsync/internal/config"
	"tuleapsync/internal/domain"
	"tuleapsync/internal/repo"
	"tuleapsync/internal/rest"
	"tuleapsync/internal/taskdata"
)

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs("3, 1,2")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2}, ids)

	ids, err = parseIDs("")
	require.NoError(t, err)
	assert.Equal(t, []int{}, ids)

	_, err = parseIDs("1,x")
	assert.Error(t, err)
	_, err = parseID("0")
	assert.Error(t, err)
}

func TestApplyValues(t *testing.T) {
	root := taskdata.NewRoot()
	root.Add(taskdata.FieldKey(1002), taskdata.TypeShortText).ReadOnly()

	require.NoError(t, applyValues(root, []string{"1000=Hello, world"}, []string{"1001=4,5"}))
	assert.Equal(t, []string{"Hello, world"}, root.Child(taskdata.FieldKey(1000)).Values)
	assert.Equal(t, []string{"4", "5"}, root.Child(taskdata.FieldKey(1001)).Values)

	require.NoError(t, applyValues(root, nil, []string{"1001="}))
	assert.Empty(t, root.Child(taskdata.FieldKey(1001)).Values)

	assert.ErrorContains(t, applyValues(root, []string{"1002=x"}, nil), "read-only")
	assert.Error(t, applyValues(root, []string{"summary"}, nil))
	assert.Error(t, applyValues(root, nil, []string{"1001=open"}))
}

func TestErrorMessageHidesUnsupported(t *testing.T) {
	var logs bytes.Buffer
	prev := stderr
	stderr = &logs
	t.Cleanup(func() { stderr = prev })
	dir := t.TempDir()
	viper.Set("workspace", dir)
	t.Cleanup(viper.Reset)

	err := fmt.Errorf("update: %w", &rest.UnsupportedOperationError{Method: "DELETE", URL: "/api/projects"})
	assert.Equal(t, "internal client error", errorMessage(err))
	assert.Empty(t, logs.String())

	cfg := config.Default("https://tuleap.example")
	cfg.Log.Level = "debug"
	_, werr := config.Write(dir, cfg, false)
	require.NoError(t, werr)
	assert.Equal(t, "internal client error", errorMessage(err))
	assert.Contains(t, logs.String(), "/api/projects")

	remote := &rest.ServerError{StatusCode: 400, Message: "Field 1000 is required"}
	assert.Equal(t, remote.Error(), errorMessage(remote))
}

func TestMatchesEventFilters(t *testing.T) {
	e := domain.Event{Type: "task.pulled", RunID: "r1", TaskKey: "3:12#77"}
	assert.True(t, matches(e, repo.EventFilters{}))
	assert.True(t, matches(e, repo.EventFilters{Type: "task.pulled", TaskKey: "3:12#77"}))
	assert.False(t, matches(e, repo.EventFilters{RunID: "r2"}))
}

func TestPrintRowsJSON(t *testing.T) {
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	viper.Set("json", true)
	t.Cleanup(func() { viper.Set("json", false) })

	require.NoError(t, printRows([]int{1, 2}, nil, nil))
	assert.JSONEq(t, "[1,2]", buf.String())
}
