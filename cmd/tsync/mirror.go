package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tuleapsync/internal/app"
	"tuleapsync/internal/domain"
	"tuleapsync/internal/engine"
	"tuleapsync/internal/repo"
	"tuleapsync/internal/server"
	"tuleapsync/internal/taskdata"
)

var taskHeader = table.Row{"Key", "Kind", "Label", "Synced"}

func taskRows(tasks ...domain.Task) []table.Row {
	rows := make([]table.Row, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, table.Row{t.Key, t.Kind, t.Label, t.SyncedAt})
	}
	return rows
}

func printTask(t domain.Task) error {
	t.Payload = nil
	return printRows(t, taskHeader, taskRows(t))
}

func pullCmd() *cobra.Command {
	pull := &cobra.Command{Use: "pull", Short: "Fetch items from the server into the mirror"}
	pull.AddCommand(pullKeyCmd("task", "Pull a key the way it was first pulled", engine.Engine.Pull))
	pull.AddCommand(pullKeyCmd("artifact", "Pull an artifact with its comments", engine.Engine.PullArtifact))
	pull.AddCommand(pullKeyCmd("milestone", "Pull a milestone with its planning and cardwall", engine.Engine.PullMilestone))
	pull.AddCommand(pullBacklogCmd())
	pull.AddCommand(pullTrackerCmd())
	pull.AddCommand(pullServerCmd())
	return pull
}

func pullKeyCmd(use, short string, pull func(engine.Engine, context.Context, string) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				t, err := pull(ws.Engine, ctx, args[0])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func pullBacklogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backlog <project-id>",
		Short: "Pull the top planning of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				t, err := ws.Engine.PullProjectBacklog(ctx, id)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func pullTrackerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tracker <tracker-id>",
		Short: "Pull every artifact of a tracker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				tasks, err := ws.Engine.PullTracker(ctx, id)
				if err != nil {
					return err
				}
				return printRows(tasks, taskHeader, taskRows(tasks...))
			})
		},
	}
}

func pullServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Refresh the stored server configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				cfg, err := ws.Engine.RefreshServer(ctx)
				if err != nil {
					return err
				}
				var rows []table.Row
				for _, p := range cfg.Projects {
					rows = append(rows, table.Row{p.ID, p.Label, len(p.Trackers), len(p.Plannings), len(p.UserGroups)})
				}
				return printRows(cfg, table.Row{"Project", "Label", "Trackers", "Plannings", "Groups"}, rows)
			})
		},
	}
}

func pushCmd() *cobra.Command {
	var values valueFlags
	var file string
	cmd := &cobra.Command{
		Use:   "push <key>",
		Short: "Send a mirrored item or planning back to the server",
		Long: `Push sends the mirrored tree of <key>, or the tree read from --file, after
applying --set/--bind edits. Artifacts are created when the key has item 0 and
updated otherwise; milestones and top plannings push their order.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && file == "" {
				return fmt.Errorf("a key or --file is required")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				var root *taskdata.Attribute
				if file != "" {
					data, err := os.ReadFile(file)
					if err != nil {
						return err
					}
					root = &taskdata.Attribute{}
					if err := json.Unmarshal(data, root); err != nil {
						return fmt.Errorf("read %s: %w", file, err)
					}
				} else {
					tree, err := ws.Engine.Task(ctx, args[0])
					if err != nil {
						return err
					}
					root = tree
				}
				if err := applyValues(root, values.sets, values.binds); err != nil {
					return err
				}
				res, err := ws.Engine.Push(ctx, engine.PushOptions{Root: root, Comment: values.comment})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				verb := "pushed"
				if res.Created {
					verb = "created"
				}
				printDone("%s %s", verb, res.Task.Key)
				return nil
			})
		},
	}
	values.register(cmd)
	cmd.Flags().StringVar(&file, "file", "", "JSON attribute tree to push")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Inspect the local mirror"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskRemoveCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mirrored tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				tasks, err := ws.Engine.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				return printRows(tasks, taskHeader, taskRows(tasks...))
			})
		},
	}
	cmd.Flags().IntVar(&f.ProjectID, "project", 0, "project id")
	cmd.Flags().IntVar(&f.TrackerID, "tracker", 0, "tracker id")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "artifact, milestone, top_planning or backlog_item")
	cmd.Flags().StringVar(&f.Label, "label", "", "label substring")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Show the attribute tree of a mirrored task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				root, err := ws.Engine.Task(ctx, args[0])
				if err != nil {
					return err
				}
				return printTree(root)
			})
		},
	}
}

func taskRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <key>",
		Aliases: []string{"remove"},
		Short:   "Drop a task from the mirror",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Engine.RemoveTask(ctx, args[0]); err != nil {
					return err
				}
				printDone("removed %s", args[0])
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				counts, err := ws.Engine.Repo.CountTasksByKind(ctx)
				if err != nil {
					return err
				}
				last, err := ws.Engine.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				status := map[string]any{
					"server":        ws.Client.ServerURL(),
					"task_counts":   counts,
					"last_event_id": last,
				}
				snap, err := ws.Engine.Repo.LatestServerSnapshot(ctx, ws.Client.ServerURL())
				switch {
				case errors.Is(err, repo.ErrNotFound):
				case err != nil:
					return err
				default:
					status["snapshot_at"] = snap.FetchedAt.UTC().Format(time.RFC3339)
				}
				rows := []table.Row{{"server", ws.Client.ServerURL()}, {"last event", last}}
				if at, ok := status["snapshot_at"]; ok {
					rows = append(rows, table.Row{"server snapshot", at})
				}
				for _, kind := range []string{taskdata.KindArtifact, taskdata.KindMilestone, taskdata.KindTopPlanning, taskdata.KindBacklogItem} {
					rows = append(rows, table.Row{kind, counts[kind]})
				}
				return printRows(status, table.Row{"Field", "Value"}, rows)
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Read the sync log"}
	l.AddCommand(logTailCmd())
	return l
}

var eventHeader = table.Row{"ID", "Time", "Type", "Task", "Run", "Payload"}

func eventRows(events []domain.Event) []table.Row {
	rows := make([]table.Row, 0, len(events))
	for _, e := range events {
		rows = append(rows, table.Row{e.ID, e.TS, e.Type, e.TaskKey, e.RunID, e.Payload})
	}
	return rows
}

func logTailCmd() *cobra.Command {
	var n int
	var follow bool
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				events, err := ws.Engine.Repo.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				// oldest first, as a log reads
				for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
					events[i], events[j] = events[j], events[i]
				}
				if err := printRows(events, eventHeader, eventRows(events)); err != nil {
					return err
				}
				if !follow {
					return nil
				}
				return followEvents(ctx, ws, f)
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.RunID, "run", "", "run id filter")
	cmd.Flags().StringVar(&f.TaskKey, "task", "", "task key filter")
	return cmd
}

func followEvents(ctx context.Context, ws *app.Workspace, f repo.EventFilters) error {
	cursor, err := ws.Engine.Repo.LatestEventID(ctx)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		events, err := ws.Engine.Repo.EventsAfter(ctx, 100, cursor)
		if err != nil {
			return err
		}
		var matched []domain.Event
		for _, e := range events {
			cursor = e.ID
			if matches(e, f) {
				matched = append(matched, e)
			}
		}
		if len(matched) > 0 {
			if err := printRows(matched, eventHeader, eventRows(matched)); err != nil {
				return err
			}
		}
	}
}

func matches(e domain.Event, f repo.EventFilters) bool {
	return (f.Type == "" || e.Type == f.Type) &&
		(f.RunID == "" || e.RunID == f.RunID) &&
		(f.TaskKey == "" || e.TaskKey == f.TaskKey)
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var insecure bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the mirror over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if !cmd.Flags().Changed("addr") {
					addr = ws.Config.Serve.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = ws.Config.Serve.BasePath
				}
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt_secret"), Disabled: insecure, Logger: ws.Logger}
				if authCfg.JWTSecret == "" && !insecure {
					return fmt.Errorf("TSYNC_JWT_SECRET is required for bearer auth (or pass --insecure)")
				}
				handler, err := server.New(server.Config{Engine: ws.Engine, BasePath: basePath, Auth: authCfg, Logger: ws.Logger})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Fprintf(os.Stderr, "Serving the tsync mirror on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address (default serve.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (default serve.base_path)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "serve without authentication")
	return cmd
}
