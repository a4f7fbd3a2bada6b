package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"tuleapsync/internal/domain"
	"tuleapsync/internal/events"
	"tuleapsync/internal/repo"
	"tuleapsync/internal/taskdata"
	"tuleapsync/internal/taskid"
)

// assignContent marks the items planned in each milestone and appends them
// after the unplanned backlog.
func (e Engine) assignContent(ctx context.Context, milestones []domain.Milestone, backlog []domain.BacklogItem) ([]domain.BacklogItem, error) {
	for _, m := range milestones {
		content, err := e.Client.GetMilestoneContent(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("list content of milestone %d: %w", m.ID, err)
		}
		for _, item := range content {
			item.AssignedMilestoneID = m.ID
			backlog = append(backlog, item)
		}
	}
	return backlog, nil
}

// planningStubs records the sub-milestones and items of a planning as thin
// tasks of their own. Milestone stubs carry no planning, so they cannot be
// pushed back as one.
func (e Engine) planningStubs(milestones []domain.Milestone, items []domain.BacklogItem) ([]domain.Task, error) {
	var out []domain.Task
	for _, m := range milestones {
		root := taskdata.FromMilestone(m, nil, nil)
		root.Remove(taskdata.KeyPlanning)
		t, err := e.record(root, m.Label, m.HTMLURL)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	for _, b := range items {
		t, err := e.record(taskdata.FromBacklogItem(b), b.Label, b.HTMLURL)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (e Engine) storePlanning(ctx context.Context, run string, main domain.Task, stubs []domain.Task) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.store(ctx, tx, run, events.TaskPulled, main); err != nil {
			return err
		}
		for _, s := range stubs {
			if err := e.storeStub(ctx, tx, run, s); err != nil {
				return err
			}
		}
		return nil
	})
}

// PullMilestone mirrors a milestone with its planning: sub-milestones, the
// backlog, the content of each sub-milestone and, when the milestone type
// has one, its cardwall. Sub-milestones and backlog items are also stored
// under their own keys.
func (e Engine) PullMilestone(ctx context.Context, key string) (domain.Task, error) {
	id, err := parseKey(key)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.session(ctx); err != nil {
		return domain.Task{}, err
	}
	m, err := e.Client.GetMilestone(ctx, id.ItemID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("fetch milestone %d: %w", id.ItemID, err)
	}
	subs, err := e.Client.GetSubMilestones(ctx, m.ID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("list sub-milestones of %d: %w", m.ID, err)
	}
	backlog, err := e.Client.GetMilestoneBacklog(ctx, m.ID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("list backlog of milestone %d: %w", m.ID, err)
	}
	items, err := e.assignContent(ctx, subs, backlog)
	if err != nil {
		return domain.Task{}, err
	}
	root := taskdata.FromMilestone(m, subs, items)
	if m.HasCardwall() {
		cw, err := e.Client.GetCardwall(ctx, m.ID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("fetch cardwall of milestone %d: %w", m.ID, err)
		}
		taskdata.AddCardwall(root, cw)
	}
	main, err := e.record(root, m.Label, m.HTMLURL)
	if err != nil {
		return domain.Task{}, err
	}
	stubs, err := e.planningStubs(subs, items)
	if err != nil {
		return domain.Task{}, err
	}
	run := newRunID()
	if err := e.storePlanning(ctx, run, main, stubs); err != nil {
		return domain.Task{}, err
	}
	e.log().LogAttrs(ctx, slog.LevelInfo, "milestone pulled",
		slog.String("run_id", run),
		slog.String("task", main.Key),
		slog.Int("sub_milestones", len(subs)),
		slog.Int("items", len(items)),
	)
	return main, nil
}

// PullProjectBacklog mirrors the top planning of a project: its top
// milestones, the project backlog and the content of each milestone.
func (e Engine) PullProjectBacklog(ctx context.Context, projectID int) (domain.Task, error) {
	if projectID <= 0 {
		return domain.Task{}, fmt.Errorf("invalid project id %d", projectID)
	}
	if err := e.session(ctx); err != nil {
		return domain.Task{}, err
	}
	milestones, err := e.Client.GetProjectMilestones(ctx, projectID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("list milestones of project %d: %w", projectID, err)
	}
	backlog, err := e.Client.GetProjectBacklog(ctx, projectID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("list backlog of project %d: %w", projectID, err)
	}
	items, err := e.assignContent(ctx, milestones, backlog)
	if err != nil {
		return domain.Task{}, err
	}
	main, err := e.record(taskdata.FromTopPlanning(projectID, milestones, items), "General Planning", "")
	if err != nil {
		return domain.Task{}, err
	}
	stubs, err := e.planningStubs(milestones, items)
	if err != nil {
		return domain.Task{}, err
	}
	run := newRunID()
	if err := e.storePlanning(ctx, run, main, stubs); err != nil {
		return domain.Task{}, err
	}
	e.log().LogAttrs(ctx, slog.LevelInfo, "project backlog pulled",
		slog.String("run_id", run),
		slog.Int("project_id", projectID),
		slog.Int("milestones", len(milestones)),
		slog.Int("items", len(items)),
	)
	return main, nil
}

// PushPlanning sends the order of a planning tree: the unassigned backlog,
// the content of every sub-milestone and, for a milestone, the order of its
// sub-milestones. The planning is pulled back afterwards.
func (e Engine) PushPlanning(ctx context.Context, root *taskdata.Attribute) (domain.Task, error) {
	if root == nil {
		return domain.Task{}, errors.New("nothing to push")
	}
	id, err := taskdata.TaskKey(root)
	if err != nil {
		return domain.Task{}, err
	}
	plan, err := taskdata.ReadPlanning(root)
	if err != nil {
		return domain.Task{}, err
	}
	kind := taskdata.Kind(root)
	if kind != taskdata.KindMilestone && kind != taskdata.KindTopPlanning {
		return domain.Task{}, fmt.Errorf("%s is a %s, not a planning", id, kind)
	}
	if err := e.session(ctx); err != nil {
		return domain.Task{}, err
	}

	if kind == taskdata.KindTopPlanning {
		if err := e.Client.UpdateTopPlanningBacklog(ctx, id.ProjectID, plan.Backlog()); err != nil {
			return domain.Task{}, fmt.Errorf("reorder backlog of project %d: %w", id.ProjectID, err)
		}
	} else {
		if err := e.Client.UpdateMilestoneBacklog(ctx, id.ItemID, plan.Backlog()); err != nil {
			return domain.Task{}, fmt.Errorf("reorder backlog of milestone %d: %w", id.ItemID, err)
		}
		if len(plan.Milestones) > 0 {
			if err := e.Client.UpdateMilestoneSubmilestones(ctx, id.ItemID, plan.MilestoneIDs()); err != nil {
				return domain.Task{}, fmt.Errorf("reorder sub-milestones of %d: %w", id.ItemID, err)
			}
		}
	}
	for _, m := range plan.Milestones {
		if err := e.Client.UpdateMilestoneContent(ctx, m.ItemID, plan.Content(m)); err != nil {
			return domain.Task{}, fmt.Errorf("update content of milestone %s: %w", m, err)
		}
	}

	run := newRunID()
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		return e.events().Append(ctx, tx, events.PlanningPushed, run, id.String(), events.EventPayload{
			"milestones": len(plan.Milestones),
			"items":      len(plan.Items),
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	if kind == taskdata.KindTopPlanning {
		return e.PullProjectBacklog(ctx, id.ProjectID)
	}
	return e.PullMilestone(ctx, id.String())
}

// Push dispatches a tree to the push operation of its kind.
func (e Engine) Push(ctx context.Context, opts PushOptions) (PushResult, error) {
	switch taskdata.Kind(opts.Root) {
	case taskdata.KindMilestone, taskdata.KindTopPlanning:
		t, err := e.PushPlanning(ctx, opts.Root)
		return PushResult{Task: t}, err
	case taskdata.KindBacklogItem:
		id, err := taskdata.TaskKey(opts.Root)
		if err != nil {
			return PushResult{}, err
		}
		return PushResult{}, fmt.Errorf("%s is a planning entry; pull it as an artifact to edit it", id)
	default:
		return e.PushArtifact(ctx, opts)
	}
}

// TopPlanningKey is the mirror key of the top planning of a project.
func TopPlanningKey(projectID int) string {
	return taskdata.TopPlanningID(projectID).String()
}

// Pull refreshes key the way it was first pulled: a top planning key pulls
// the project backlog, a mirrored milestone its planning, anything else the
// artifact.
func (e Engine) Pull(ctx context.Context, key string) (domain.Task, error) {
	id, err := taskid.Parse(key)
	if err != nil {
		return domain.Task{}, err
	}
	if id == taskdata.TopPlanningID(id.ProjectID) {
		return e.PullProjectBacklog(ctx, id.ProjectID)
	}
	existing, err := e.Repo.GetTask(ctx, id.String())
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return domain.Task{}, err
	case existing.Kind == taskdata.KindMilestone:
		return e.PullMilestone(ctx, id.String())
	}
	return e.PullArtifact(ctx, id.String())
}
