package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"tuleapsync/internal/taskdata"
)

var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRows prints rows as a table, or v as JSON under --json.
func printRows(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func printTree(root *taskdata.Attribute) error {
	if viper.GetBool("json") {
		return printJSON(root)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(stdout)
	tw.AppendHeader(table.Row{"Attribute", "Label", "Value", ""})
	var walk func(a *taskdata.Attribute, depth int)
	walk = func(a *taskdata.Attribute, depth int) {
		flag := ""
		if a.Metadata.ReadOnly {
			flag = "ro"
		}
		tw.AppendRow(table.Row{strings.Repeat("  ", depth) + a.ID, a.Metadata.Label, strings.Join(a.Values, ", "), flag})
		for _, c := range a.Children {
			walk(c, depth+1)
		}
	}
	for _, c := range root.Children {
		walk(c, 0)
	}
	tw.Render()
	return nil
}

func printDone(format string, args ...any) {
	if viper.GetBool("json") {
		return
	}
	fmt.Fprintf(stdout, format+"\n", args...)
}

func parseID(arg string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

// parseIDs reads a comma separated id list; an empty string is an empty
// list.
func parseIDs(arg string) ([]int, error) {
	ids := []int{}
	for _, part := range strings.Split(arg, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := parseID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// applyValues writes --set <field-id>=<text> and --bind <field-id>=<id>[,<id>...]
// assignments into root.
func applyValues(root *taskdata.Attribute, sets, binds []string) error {
	for _, s := range sets {
		attr, value, err := fieldAssignment(root, "--set", s)
		if err != nil {
			return err
		}
		attr.SetValue(value)
	}
	for _, s := range binds {
		attr, value, err := fieldAssignment(root, "--bind", s)
		if err != nil {
			return err
		}
		ids, err := parseIDs(value)
		if err != nil {
			return fmt.Errorf("invalid --bind %q: %w", s, err)
		}
		values := make([]string, 0, len(ids))
		for _, id := range ids {
			values = append(values, strconv.Itoa(id))
		}
		attr.SetValue(values...)
	}
	return nil
}

func fieldAssignment(root *taskdata.Attribute, flag, s string) (*taskdata.Attribute, string, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		return nil, "", fmt.Errorf("invalid %s %q: want <field-id>=<value>", flag, s)
	}
	fieldID, err := parseID(name)
	if err != nil {
		return nil, "", fmt.Errorf("invalid %s %q: %w", flag, s, err)
	}
	key := taskdata.FieldKey(fieldID)
	attr := root.Child(key)
	if attr == nil {
		attr = root.Add(key, taskdata.TypeShortText)
	}
	if attr.Metadata.ReadOnly {
		return nil, "", fmt.Errorf("field %d is read-only", fieldID)
	}
	return attr, value, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
