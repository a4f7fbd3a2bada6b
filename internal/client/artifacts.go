package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tuleapsync/internal/domain"
	"tuleapsync/internal/field"
	"tuleapsync/internal/rest"
	"tuleapsync/internal/taskid"
)

// GetArtifact fetches an artifact and its comments. server, which may be
// nil, provides the field catalog of the artifact tracker and the users
// that comments are attributed to.
func (c *Client) GetArtifact(ctx context.Context, id int, server *domain.ServerConfig) (domain.Artifact, error) {
	op, err := c.res.Artifact(id).Get(ctx)
	if err != nil {
		return domain.Artifact{}, err
	}
	resp, err := op.CheckedRun(ctx)
	if err != nil {
		return domain.Artifact{}, err
	}
	var head struct {
		Tracker domain.Ref `json:"tracker"`
	}
	if err := json.Unmarshal(resp.Body, &head); err != nil {
		return domain.Artifact{}, fmt.Errorf("decode artifact %d: %w", id, err)
	}
	var catalog field.Catalog
	var users domain.UserResolver
	if server != nil {
		users = server
		if tr, ok := server.Tracker(head.Tracker.ID); ok {
			catalog = tr
		}
	}
	a, err := domain.ParseArtifact(resp.Body, catalog)
	if err != nil {
		return domain.Artifact{}, err
	}
	if a.Project.ID == 0 && server != nil {
		if tr, ok := server.Tracker(a.Tracker.ID); ok {
			a.Project = tr.Project
		}
	}
	comments, err := c.GetArtifactComments(ctx, id, users)
	if err != nil {
		return domain.Artifact{}, err
	}
	a.Comments = comments
	return a, nil
}

// GetArtifactComments lists the non-empty comments of an artifact in
// changeset order.
func (c *Client) GetArtifactComments(ctx context.Context, id int, users domain.UserResolver) ([]domain.Comment, error) {
	changesets, err := collect[domain.Changeset](ctx, c.res.ArtifactChangesets(id), "fields", "comments")
	if err != nil {
		return nil, err
	}
	return domain.CommentsFromChangesets(changesets, users), nil
}

// CreateArtifact submits a new artifact and returns its composite id.
func (c *Client) CreateArtifact(ctx context.Context, a domain.Artifact, catalog field.Catalog) (taskid.ID, error) {
	body, err := a.MarshalCreate(catalog)
	if err != nil {
		return taskid.ID{}, err
	}
	op, err := c.res.Artifacts().Post(ctx)
	if err != nil {
		return taskid.ID{}, err
	}
	resp, err := op.WithJSONBody(body).CheckedRun(ctx)
	if err != nil {
		return taskid.ID{}, err
	}
	var ref domain.ArtifactRef
	if err := json.Unmarshal(resp.Body, &ref); err != nil {
		return taskid.ID{}, fmt.Errorf("decode created artifact: %w", err)
	}
	trackerID := ref.Tracker.ID
	if trackerID == 0 {
		trackerID = a.Tracker.ID
	}
	return taskid.New(a.Project.ID, trackerID, ref.ID), nil
}

// UpdateArtifact submits the updatable values of a, with an optional
// comment.
func (c *Client) UpdateArtifact(ctx context.Context, a domain.Artifact, catalog field.Catalog, comment string) error {
	if a.ID <= 0 {
		return errors.New("update artifact: missing artifact id")
	}
	body, err := a.MarshalUpdate(catalog, comment)
	if err != nil {
		return err
	}
	return c.put(ctx, c.res.Artifact(a.ID), body)
}

func (c *Client) GetTracker(ctx context.Context, id int) (domain.Tracker, error) {
	var t domain.Tracker
	err := c.getJSON(ctx, c.res.Tracker(id), &t)
	return t, err
}

func (c *Client) GetTrackerReports(ctx context.Context, trackerID int) ([]domain.TrackerReport, error) {
	return collect[domain.TrackerReport](ctx, c.res.TrackerReports(trackerID))
}

// GetTrackerReportArtifacts runs a report. Artifacts come with all their
// values.
func (c *Client) GetTrackerReportArtifacts(ctx context.Context, reportID int, catalog field.Catalog) ([]domain.Artifact, error) {
	return c.artifacts(ctx, c.res.TrackerReportArtifacts(reportID), catalog)
}

// GetTrackerArtifacts lists the artifacts of a tracker with all their values.
func (c *Client) GetTrackerArtifacts(ctx context.Context, trackerID int, catalog field.Catalog) ([]domain.Artifact, error) {
	return c.artifacts(ctx, c.res.TrackerArtifacts(trackerID), catalog)
}

func (c *Client) artifacts(ctx context.Context, r *rest.Resource, catalog field.Catalog) ([]domain.Artifact, error) {
	out := []domain.Artifact{}
	err := each(ctx, r, func(raw json.RawMessage) error {
		a, err := domain.ParseArtifact(raw, catalog)
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	}, "values", "all")
	if err != nil {
		return nil, err
	}
	return out, nil
}
