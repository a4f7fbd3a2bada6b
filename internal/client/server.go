package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"tuleapsync/internal/domain"
	"tuleapsync/internal/rest"
)

func (c *Client) GetProjects(ctx context.Context) ([]domain.Project, error) {
	return collect[domain.Project](ctx, c.res.Projects())
}

func (c *Client) GetProjectTrackers(ctx context.Context, projectID int) ([]domain.Tracker, error) {
	return collect[domain.Tracker](ctx, c.res.ProjectTrackers(projectID))
}

func (c *Client) GetProjectPlannings(ctx context.Context, projectID int) ([]domain.Planning, error) {
	return collect[domain.Planning](ctx, c.res.ProjectPlannings(projectID))
}

func (c *Client) GetProjectUserGroups(ctx context.Context, projectID int) ([]domain.UserGroup, error) {
	return collect[domain.UserGroup](ctx, c.res.ProjectUserGroups(projectID))
}

func (c *Client) GetUserGroupUsers(ctx context.Context, groupID string) ([]domain.User, error) {
	return collect[domain.User](ctx, c.res.UserGroupUsers(groupID))
}

// GetServer assembles the server configuration: every visible project with
// its plannings, trackers and user groups, and the registry of the users
// found in those groups. Projects without the agile dashboard (plannings
// answering 404) get no plannings.
func (c *Client) GetServer(ctx context.Context) (domain.ServerConfig, error) {
	cfg := domain.ServerConfig{URL: c.serverURL, FetchedAt: c.now()}
	self, err := c.Self(ctx)
	if err != nil {
		return domain.ServerConfig{}, err
	}
	cfg.Self = self

	projects, err := c.GetProjects(ctx)
	if err != nil {
		return domain.ServerConfig{}, err
	}
	seen := map[int]bool{self.ID: true}
	for i := range projects {
		p := &projects[i]
		plannings, err := c.GetProjectPlannings(ctx, p.ID)
		switch {
		case notFound(err):
			c.log.LogAttrs(ctx, slog.LevelDebug, "project has no plannings", slog.Int("project_id", p.ID))
		case err != nil:
			return domain.ServerConfig{}, err
		default:
			p.Plannings = plannings
		}
		if p.Trackers, err = c.GetProjectTrackers(ctx, p.ID); err != nil {
			return domain.ServerConfig{}, err
		}
		groups, err := c.GetProjectUserGroups(ctx, p.ID)
		if err != nil {
			return domain.ServerConfig{}, err
		}
		for j := range groups {
			members, err := c.GetUserGroupUsers(ctx, groups[j].ID)
			if err != nil {
				return domain.ServerConfig{}, err
			}
			groups[j].Members = members
			for _, u := range members {
				if !seen[u.ID] {
					seen[u.ID] = true
					cfg.Users = append(cfg.Users, u)
				}
			}
		}
		p.UserGroups = groups
	}
	cfg.Projects = projects
	c.log.LogAttrs(ctx, slog.LevelInfo, "server configuration fetched",
		slog.String("url", cfg.URL),
		slog.Int("projects", len(cfg.Projects)),
		slog.Int("users", len(cfg.Users)+1),
	)
	return cfg, nil
}

func notFound(err error) bool {
	var se *rest.ServerError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
