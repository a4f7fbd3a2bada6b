package client

import (
	"context"
	"fmt"

	"tuleapsync/internal/domain"
)

func (c *Client) GetMilestone(ctx context.Context, id int) (domain.Milestone, error) {
	var m domain.Milestone
	err := c.getJSON(ctx, c.res.Milestone(id), &m)
	return m, err
}

func (c *Client) GetMilestoneBacklog(ctx context.Context, milestoneID int) ([]domain.BacklogItem, error) {
	return collect[domain.BacklogItem](ctx, c.res.MilestoneBacklog(milestoneID))
}

func (c *Client) GetMilestoneContent(ctx context.Context, milestoneID int) ([]domain.BacklogItem, error) {
	return collect[domain.BacklogItem](ctx, c.res.MilestoneContent(milestoneID))
}

func (c *Client) GetSubMilestones(ctx context.Context, milestoneID int) ([]domain.Milestone, error) {
	return collect[domain.Milestone](ctx, c.res.MilestoneSubmilestones(milestoneID))
}

// GetProjectMilestones lists the top level milestones of a project.
func (c *Client) GetProjectMilestones(ctx context.Context, projectID int) ([]domain.Milestone, error) {
	return collect[domain.Milestone](ctx, c.res.ProjectMilestones(projectID))
}

// GetProjectBacklog lists the items not planned in any top level milestone.
func (c *Client) GetProjectBacklog(ctx context.Context, projectID int) ([]domain.BacklogItem, error) {
	return collect[domain.BacklogItem](ctx, c.res.ProjectBacklog(projectID))
}

func (c *Client) GetBacklogItem(ctx context.Context, id int) (domain.BacklogItem, error) {
	var b domain.BacklogItem
	err := c.getJSON(ctx, c.res.BacklogItem(id), &b)
	return b, err
}

func (c *Client) GetCardwall(ctx context.Context, milestoneID int) (domain.Cardwall, error) {
	var cw domain.Cardwall
	err := c.getJSON(ctx, c.res.MilestoneCardwall(milestoneID), &cw)
	return cw, err
}

// UpdateMilestoneBacklog reorders the backlog of a milestone. ids lists
// backlog item ids in the new order.
func (c *Client) UpdateMilestoneBacklog(ctx context.Context, milestoneID int, ids []int) error {
	body, err := domain.IDList(ids)
	if err != nil {
		return err
	}
	return c.put(ctx, c.res.MilestoneBacklog(milestoneID), body)
}

// UpdateMilestoneContent sets the items planned in a milestone, in order.
func (c *Client) UpdateMilestoneContent(ctx context.Context, milestoneID int, ids []int) error {
	body, err := domain.IDList(ids)
	if err != nil {
		return err
	}
	return c.put(ctx, c.res.MilestoneContent(milestoneID), body)
}

// UpdateMilestoneSubmilestones sets the sub-milestones of a milestone.
func (c *Client) UpdateMilestoneSubmilestones(ctx context.Context, milestoneID int, ids []int) error {
	body, err := domain.IDList(ids)
	if err != nil {
		return err
	}
	return c.put(ctx, c.res.MilestoneSubmilestones(milestoneID), body)
}

// UpdateTopPlanningBacklog reorders the project backlog.
func (c *Client) UpdateTopPlanningBacklog(ctx context.Context, projectID int, ids []int) error {
	body, err := domain.IDList(ids)
	if err != nil {
		return err
	}
	return c.put(ctx, c.res.ProjectBacklog(projectID), body)
}

func (c *Client) UpdateCard(ctx context.Context, card domain.Card) error {
	if card.ID == "" {
		return fmt.Errorf("update card: missing card id")
	}
	body, err := card.MarshalSubmission()
	if err != nil {
		return err
	}
	return c.put(ctx, c.res.Card(card.ID), body)
}
