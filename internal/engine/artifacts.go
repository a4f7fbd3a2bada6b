package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"tuleapsync/internal/domain"
	"tuleapsync/internal/events"
	"tuleapsync/internal/taskdata"
	"tuleapsync/internal/taskid"
)

// PullArtifact fetches an artifact with its comments into the mirror.
func (e Engine) PullArtifact(ctx context.Context, key string) (domain.Task, error) {
	id, err := parseKey(key)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.session(ctx); err != nil {
		return domain.Task{}, err
	}
	server, err := e.Server(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	run := newRunID()
	t, err := e.fetchArtifact(ctx, &server, id)
	if err != nil {
		return domain.Task{}, err
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		return e.store(ctx, tx, run, events.TaskPulled, t)
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.log().LogAttrs(ctx, slog.LevelInfo, "artifact pulled", slog.String("run_id", run), slog.String("task", t.Key))
	return t, nil
}

// FetchArtifact reads an artifact from the server without touching the
// mirror.
func (e Engine) FetchArtifact(ctx context.Context, key string) (domain.Task, error) {
	id, err := parseKey(key)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.session(ctx); err != nil {
		return domain.Task{}, err
	}
	server, err := e.Server(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	return e.fetchArtifact(ctx, &server, id)
}

// ensureTracker makes the tracker of id part of server so that values are
// decoded against its fields.
func (e Engine) ensureTracker(ctx context.Context, server *domain.ServerConfig, trackerID int) (domain.Tracker, error) {
	if t, ok := server.Tracker(trackerID); ok {
		return t, nil
	}
	t, err := e.tracker(ctx, *server, trackerID)
	if err != nil {
		return domain.Tracker{}, fmt.Errorf("fetch tracker %d: %w", trackerID, err)
	}
	for i := range server.Projects {
		if server.Projects[i].ID == t.Project.ID {
			server.Projects[i].Trackers = append(server.Projects[i].Trackers, t)
			return t, nil
		}
	}
	server.Projects = append(server.Projects, domain.Project{ID: t.Project.ID, Trackers: []domain.Tracker{t}})
	return t, nil
}

func (e Engine) fetchArtifact(ctx context.Context, server *domain.ServerConfig, id taskid.ID) (domain.Task, error) {
	tracker, err := e.ensureTracker(ctx, server, id.TrackerID)
	if err != nil {
		return domain.Task{}, err
	}
	a, err := e.Client.GetArtifact(ctx, id.ItemID, server)
	if err != nil {
		return domain.Task{}, fmt.Errorf("fetch artifact %s: %w", id, err)
	}
	if a.Project.ID == 0 {
		a.Project.ID = id.ProjectID
	}
	if got := a.TaskID(); got != id {
		return domain.Task{}, fmt.Errorf("artifact %d is %s, not %s", id.ItemID, got, id)
	}
	root := taskdata.FromArtifact(a, tracker)
	return e.record(root, a.Text(tracker.TitleFieldID()), a.HTMLURL)
}

// PushOptions describe the submission of an edited artifact tree.
type PushOptions struct {
	Root *taskdata.Attribute
	// Comment overrides the new comment held in the tree.
	Comment string
}

// PushResult is the outcome of a push: the task as pulled back after the
// submission, and whether the push created the remote item.
type PushResult struct {
	Task    domain.Task
	Created bool
}

// PushArtifact submits an artifact tree. A key with item 0 creates the
// artifact, any other key updates it with the optional comment. The task is
// pulled back afterwards so the mirror holds what the server accepted.
func (e Engine) PushArtifact(ctx context.Context, opts PushOptions) (PushResult, error) {
	if opts.Root == nil {
		return PushResult{}, errors.New("nothing to push")
	}
	if kind := taskdata.Kind(opts.Root); kind != "" && kind != taskdata.KindArtifact {
		return PushResult{}, fmt.Errorf("cannot push a %s as an artifact", kind)
	}
	id, err := taskdata.TaskKey(opts.Root)
	if err != nil {
		return PushResult{}, err
	}
	if err := e.session(ctx); err != nil {
		return PushResult{}, err
	}
	server, err := e.Server(ctx)
	if err != nil {
		return PushResult{}, err
	}
	tracker, err := e.ensureTracker(ctx, &server, id.TrackerID)
	if err != nil {
		return PushResult{}, err
	}
	a, err := taskdata.ToArtifact(opts.Root, tracker)
	if err != nil {
		return PushResult{}, err
	}
	comment := opts.Comment
	if comment == "" {
		comment = taskdata.NewComment(opts.Root)
	}

	run := newRunID()
	res := PushResult{Created: id.IsNew()}
	evtType := events.TaskUpdated
	if res.Created {
		created, err := e.Client.CreateArtifact(ctx, a, tracker)
		if err != nil {
			return PushResult{}, fmt.Errorf("create artifact in tracker %d: %w", tracker.ID, err)
		}
		id = created
		evtType = events.TaskCreated
		if comment != "" {
			a.ID = id.ItemID
			if err := e.Client.UpdateArtifact(ctx, a, tracker, comment); err != nil {
				return PushResult{}, fmt.Errorf("comment new artifact %s: %w", id, err)
			}
		}
	} else if err := e.Client.UpdateArtifact(ctx, a, tracker, comment); err != nil {
		return PushResult{}, fmt.Errorf("update artifact %s: %w", id, err)
	}

	t, err := e.fetchArtifact(ctx, &server, id)
	if err != nil {
		return PushResult{}, err
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.events().Append(ctx, tx, evtType, run, t.Key, events.EventPayload{"comment": comment != ""}); err != nil {
			return err
		}
		return e.store(ctx, tx, run, events.TaskPulled, t)
	})
	if err != nil {
		return PushResult{}, err
	}
	e.log().LogAttrs(ctx, slog.LevelInfo, "artifact pushed",
		slog.String("run_id", run),
		slog.String("task", t.Key),
		slog.Bool("created", res.Created),
	)
	res.Task = t
	return res, nil
}

// PullTracker mirrors every artifact of a tracker.
func (e Engine) PullTracker(ctx context.Context, trackerID int) ([]domain.Task, error) {
	if err := e.session(ctx); err != nil {
		return nil, err
	}
	server, err := e.Server(ctx)
	if err != nil {
		return nil, err
	}
	tracker, err := e.ensureTracker(ctx, &server, trackerID)
	if err != nil {
		return nil, err
	}
	artifacts, err := e.Client.GetTrackerArtifacts(ctx, trackerID, tracker)
	if err != nil {
		return nil, fmt.Errorf("list artifacts of tracker %d: %w", trackerID, err)
	}
	run := newRunID()
	tasks := make([]domain.Task, 0, len(artifacts))
	for _, a := range artifacts {
		if a.Project.ID == 0 {
			a.Project = tracker.Project
		}
		t, err := e.record(taskdata.FromArtifact(a, tracker), a.Text(tracker.TitleFieldID()), a.HTMLURL)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tasks {
			if err := e.store(ctx, tx, run, events.TaskPulled, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log().LogAttrs(ctx, slog.LevelInfo, "tracker pulled",
		slog.String("run_id", run),
		slog.Int("tracker_id", trackerID),
		slog.Int("tasks", len(tasks)),
	)
	return tasks, nil
}
