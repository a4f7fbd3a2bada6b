package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"tuleapsync/internal/app"
	"tuleapsync/internal/config"
	"tuleapsync/internal/db"
	"tuleapsync/internal/domain"
	"tuleapsync/internal/engine"
	"tuleapsync/internal/taskdata"
	"tuleapsync/internal/taskid"
)

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage the workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var serverURL, username string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write tuleapsync.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg := config.Default(serverURL)
			cfg.Repository.Username = username
			if err := cfg.Validate(); err != nil {
				return err
			}
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path, err := config.Write(workspace, cfg, force)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"path": path})
			}
			printDone("wrote %s", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "", "server URL")
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = stdout.Write(out)
			return err
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check tuleapsync.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			printDone("%s is valid", config.Path(viper.GetString("workspace")))
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check the credentials against the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				token, err := ws.Client.Login(ctx)
				if err != nil {
					return err
				}
				self, err := ws.Client.Self(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"server": ws.Client.ServerURL(), "user_id": token.UserID, "username": self.Username})
				}
				printDone("logged in to %s as %s (user %d)", ws.Client.ServerURL(), self.Username, token.UserID)
				return nil
			})
		},
	}
}

func artifactCmd() *cobra.Command {
	art := &cobra.Command{Use: "artifact", Short: "Read and write artifacts on the server"}
	art.AddCommand(artifactGetCmd())
	art.AddCommand(artifactCreateCmd())
	art.AddCommand(artifactUpdateCmd())
	return art
}

func artifactGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show an artifact without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				t, err := ws.Engine.FetchArtifact(ctx, args[0])
				if err != nil {
					return err
				}
				var root taskdata.Attribute
				if err := json.Unmarshal(t.Payload, &root); err != nil {
					return err
				}
				return printTree(&root)
			})
		},
	}
}

type valueFlags struct {
	sets    []string
	binds   []string
	comment string
}

func (v *valueFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&v.sets, "set", nil, "text value, <field-id>=<text> (repeatable)")
	cmd.Flags().StringArrayVar(&v.binds, "bind", nil, "list value ids, <field-id>=<id>[,<id>...] (repeatable)")
	cmd.Flags().StringVar(&v.comment, "comment", "", "comment to add")
}

func (v *valueFlags) push(ctx context.Context, e engine.Engine, id taskid.ID) (engine.PushResult, error) {
	root := taskdata.NewRoot()
	root.Add(taskdata.KeyTaskKey, taskdata.TypeTaskKey).SetValue(id.String())
	if err := applyValues(root, v.sets, v.binds); err != nil {
		return engine.PushResult{}, err
	}
	return e.PushArtifact(ctx, engine.PushOptions{Root: root, Comment: v.comment})
}

func artifactCreateCmd() *cobra.Command {
	var values valueFlags
	cmd := &cobra.Command{
		Use:   "create <project>:<tracker>",
		Short: "Create an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := args[0]
			if !strings.Contains(arg, "#") {
				arg += "#0"
			}
			id, err := taskid.Parse(arg)
			if err != nil {
				return err
			}
			if !id.IsNew() {
				return fmt.Errorf("%s already names an artifact; use artifact update", id)
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := values.push(ctx, ws.Engine, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res.Task)
				}
				printDone("created %s", res.Task.Key)
				return nil
			})
		},
	}
	values.register(cmd)
	return cmd
}

func artifactUpdateCmd() *cobra.Command {
	var values valueFlags
	cmd := &cobra.Command{
		Use:   "update <key>",
		Short: "Update fields of an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := taskid.Parse(args[0])
			if err != nil {
				return err
			}
			if id.IsNew() {
				return fmt.Errorf("%s has no remote item; use artifact create", id)
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := values.push(ctx, ws.Engine, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res.Task)
				}
				printDone("updated %s", res.Task.Key)
				return nil
			})
		},
	}
	values.register(cmd)
	return cmd
}

func milestoneCmd() *cobra.Command {
	m := &cobra.Command{Use: "milestone", Short: "Read and reorder milestones on the server"}
	m.AddCommand(milestoneGetCmd())
	m.AddCommand(milestoneItemsCmd("backlog", "List the backlog of a milestone", func(ctx context.Context, ws *app.Workspace, id int) ([]domain.BacklogItem, error) {
		return ws.Client.GetMilestoneBacklog(ctx, id)
	}))
	m.AddCommand(milestoneItemsCmd("content", "List the content of a milestone", func(ctx context.Context, ws *app.Workspace, id int) ([]domain.BacklogItem, error) {
		return ws.Client.GetMilestoneContent(ctx, id)
	}))
	m.AddCommand(milestoneSubCmd())
	m.AddCommand(milestoneItemCmd())
	m.AddCommand(milestoneCardwallCmd())
	m.AddCommand(milestoneCardCmd())
	m.AddCommand(milestoneReorderCmd())
	return m
}

func milestoneRows(items []domain.Milestone) []table.Row {
	rows := make([]table.Row, 0, len(items))
	for _, m := range items {
		capacity := ""
		if m.Capacity != nil {
			capacity = strconv.FormatFloat(*m.Capacity, 'f', -1, 64)
		}
		rows = append(rows, table.Row{m.TaskID(), m.Label, m.StatusValue, formatDate(m.StartDate), formatDate(m.EndDate), capacity})
	}
	return rows
}

var milestoneHeader = table.Row{"Key", "Label", "Status", "Start", "End", "Capacity"}

func itemRows(items []domain.BacklogItem) []table.Row {
	rows := make([]table.Row, 0, len(items))
	for _, b := range items {
		effort := ""
		if b.InitialEffort != nil {
			effort = strconv.FormatFloat(*b.InitialEffort, 'f', -1, 64)
		}
		rows = append(rows, table.Row{b.TaskID(), b.Label, b.Status, effort})
	}
	return rows
}

var itemHeader = table.Row{"Key", "Label", "Status", "Effort"}

func milestoneGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <milestone-id>",
		Short: "Show a milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				m, err := ws.Client.GetMilestone(ctx, id)
				if err != nil {
					return err
				}
				return printRows(m, milestoneHeader, milestoneRows([]domain.Milestone{m}))
			})
		},
	}
}

func milestoneItemsCmd(use, short string, list func(context.Context, *app.Workspace, int) ([]domain.BacklogItem, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <milestone-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := list(ctx, ws, id)
				if err != nil {
					return err
				}
				return printRows(items, itemHeader, itemRows(items))
			})
		},
	}
}

func milestoneSubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submilestones <milestone-id>",
		Short: "List the sub-milestones of a milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				subs, err := ws.Client.GetSubMilestones(ctx, id)
				if err != nil {
					return err
				}
				return printRows(subs, milestoneHeader, milestoneRows(subs))
			})
		},
	}
}

func milestoneItemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "item <backlog-item-id>",
		Short: "Show a backlog item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				b, err := ws.Client.GetBacklogItem(ctx, id)
				if err != nil {
					return err
				}
				return printRows(b, itemHeader, itemRows([]domain.BacklogItem{b}))
			})
		},
	}
}

func milestoneCardwallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cardwall <milestone-id>",
		Short: "Show the cardwall of a milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				cw, err := ws.Client.GetCardwall(ctx, id)
				if err != nil {
					return err
				}
				var rows []table.Row
				for _, lane := range cw.Swimlanes {
					for _, card := range lane.Cards {
						column := ""
						if card.ColumnID != nil {
							if c, ok := cw.Column(*card.ColumnID); ok {
								column = c.Label
							}
						}
						rows = append(rows, table.Row{lane.BacklogItem.Label, card.ID, card.Label, column})
					}
				}
				return printRows(cw, table.Row{"Item", "Card", "Label", "Column"}, rows)
			})
		},
	}
}

func milestoneCardCmd() *cobra.Command {
	var label string
	var column int
	cmd := &cobra.Command{
		Use:   "card <milestone-id> <card-id>",
		Short: "Rename a card or move it to another column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("label") && !cmd.Flags().Changed("column") {
				return fmt.Errorf("one of --label or --column is required")
			}
			return withSession(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				cw, err := ws.Client.GetCardwall(ctx, id)
				if err != nil {
					return err
				}
				card, ok := cw.Card(args[1])
				if !ok {
					return fmt.Errorf("card %s is not on the cardwall of milestone %d", args[1], id)
				}
				if cmd.Flags().Changed("label") {
					card.Label = label
				}
				if cmd.Flags().Changed("column") {
					if _, ok := cw.Column(column); !ok {
						return fmt.Errorf("milestone %d has no column %d", id, column)
					}
					card.ColumnID = &column
				}
				if err := ws.Client.UpdateCard(ctx, card); err != nil {
					return err
				}
				printDone("card %s updated", card.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "new card label")
	cmd.Flags().IntVar(&column, "column", 0, "target column id")
	return cmd
}

func milestoneReorderCmd() *cobra.Command {
	var backlog, content, subs string
	cmd := &cobra.Command{
		Use:   "reorder <milestone-id>",
		Short: "Set the order of a milestone's backlog, content or sub-milestones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			type update struct {
				flag string
				raw  string
				send func(context.Context, *app.Workspace, []int) error
			}
			updates := []update{
				{"backlog", backlog, func(ctx context.Context, ws *app.Workspace, ids []int) error {
					return ws.Client.UpdateMilestoneBacklog(ctx, id, ids)
				}},
				{"content", content, func(ctx context.Context, ws *app.Workspace, ids []int) error {
					return ws.Client.UpdateMilestoneContent(ctx, id, ids)
				}},
				{"submilestones", subs, func(ctx context.Context, ws *app.Workspace, ids []int) error {
					return ws.Client.UpdateMilestoneSubmilestones(ctx, id, ids)
				}},
			}
			var changed []update
			for _, u := range updates {
				if cmd.Flags().Changed(u.flag) {
					changed = append(changed, u)
				}
			}
			if len(changed) == 0 {
				return fmt.Errorf("one of --backlog, --content or --submilestones is required")
			}
			return withSession(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				for _, u := range changed {
					ids, err := parseIDs(u.raw)
					if err != nil {
						return fmt.Errorf("--%s: %w", u.flag, err)
					}
					if err := u.send(ctx, ws, ids); err != nil {
						return err
					}
					printDone("%s of milestone %d: %v", u.flag, id, ids)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&backlog, "backlog", "", "comma separated item ids")
	cmd.Flags().StringVar(&content, "content", "", "comma separated item ids")
	cmd.Flags().StringVar(&subs, "submilestones", "", "comma separated milestone ids")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Browse projects on the server"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectTrackersCmd())
	prj.AddCommand(projectBacklogCmd())
	prj.AddCommand(projectMilestonesCmd())
	prj.AddCommand(projectReportsCmd())
	prj.AddCommand(projectReportCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Client.GetProjects(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.ID, p.ShortName, p.Label})
				}
				return printRows(items, table.Row{"ID", "Short name", "Label"}, rows)
			})
		},
	}
}

func projectTrackersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trackers <project-id>",
		Short: "List the trackers of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Client.GetProjectTrackers(ctx, id)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					rows = append(rows, table.Row{t.ID, t.Label, t.ItemName, len(t.Fields)})
				}
				return printRows(items, table.Row{"ID", "Label", "Item", "Fields"}, rows)
			})
		},
	}
}

func projectBacklogCmd() *cobra.Command {
	var reorder string
	cmd := &cobra.Command{
		Use:   "backlog <project-id>",
		Short: "List, or with --reorder set, the top backlog of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if cmd.Flags().Changed("reorder") {
					ids, err := parseIDs(reorder)
					if err != nil {
						return err
					}
					if err := ws.Client.UpdateTopPlanningBacklog(ctx, id, ids); err != nil {
						return err
					}
				}
				items, err := ws.Client.GetProjectBacklog(ctx, id)
				if err != nil {
					return err
				}
				return printRows(items, itemHeader, itemRows(items))
			})
		},
	}
	cmd.Flags().StringVar(&reorder, "reorder", "", "comma separated item ids")
	return cmd
}

func projectMilestonesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "milestones <project-id>",
		Short: "List the top milestones of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Client.GetProjectMilestones(ctx, id)
				if err != nil {
					return err
				}
				return printRows(items, milestoneHeader, milestoneRows(items))
			})
		},
	}
}

func projectReportsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reports <tracker-id>",
		Short: "List the reports of a tracker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				reports, err := ws.Client.GetTrackerReports(ctx, id)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(reports))
				for _, r := range reports {
					rows = append(rows, table.Row{r.ID, r.Label, r.IsPublic})
				}
				return printRows(reports, table.Row{"ID", "Label", "Public"}, rows)
			})
		},
	}
}

func projectReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <tracker-id> <report-id>",
		Short: "Run a tracker report and list the matching artifacts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			trackerID, err := parseID(args[0])
			if err != nil {
				return err
			}
			reportID, err := parseID(args[1])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				tracker, err := ws.Client.GetTracker(ctx, trackerID)
				if err != nil {
					return err
				}
				arts, err := ws.Client.GetTrackerReportArtifacts(ctx, reportID, tracker)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(arts))
				for _, a := range arts {
					rows = append(rows, table.Row{a.TaskID(), a.Text(tracker.TitleFieldID()), a.HTMLURL})
				}
				return printRows(arts, table.Row{"Key", "Title", "URL"}, rows)
			})
		},
	}
}
