package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tuleapsync/internal/field"
	"tuleapsync/internal/taskid"
)

// SubmissionDateLayout is the date format milestones are submitted with.
const SubmissionDateLayout = "2006-01-02T15:04:05.000Z"

// Milestone is a planning element (release, sprint...) backed by an artifact.
type Milestone struct {
	ID               int          `json:"id"`
	URI              string       `json:"uri,omitempty"`
	HTMLURL          string       `json:"html_url,omitempty"`
	Label            string       `json:"label"`
	Project          Ref          `json:"project"`
	Planning         *Ref         `json:"planning,omitempty"`
	Artifact         ArtifactRef  `json:"artifact"`
	Parent           *ArtifactRef `json:"parent,omitempty"`
	StartDate        *time.Time   `json:"start_date,omitempty"`
	EndDate          *time.Time   `json:"end_date,omitempty"`
	Capacity         *float64     `json:"capacity,omitempty"`
	StatusValue      string       `json:"status_value,omitempty"`
	SemanticStatus   string       `json:"semantic_status,omitempty"`
	SubmittedBy      int          `json:"submitted_by,omitempty"`
	SubmittedOn      *time.Time   `json:"submitted_on,omitempty"`
	LastModifiedDate *time.Time   `json:"last_modified_date,omitempty"`
	CardwallURI      string       `json:"cardwall_uri,omitempty"`
}

// TaskID is the composite identifier of the milestone.
func (m Milestone) TaskID() taskid.ID {
	return taskid.New(m.Project.ID, m.Artifact.Tracker.ID, m.ID)
}

// HasCardwall reports whether the server exposes a cardwall for m.
func (m Milestone) HasCardwall() bool { return m.CardwallURI != "" }

type parentSubmission struct {
	Tracker *Ref   `json:"tracker,omitempty"`
	ID      int    `json:"id"`
	URI     string `json:"uri,omitempty"`
}

type milestoneSubmission struct {
	ID        int               `json:"id,omitempty"`
	Label     string            `json:"label,omitempty"`
	Parent    *parentSubmission `json:"parent,omitempty"`
	StartDate string            `json:"start_date,omitempty"`
	EndDate   string            `json:"end_date,omitempty"`
	Capacity  string            `json:"capacity,omitempty"`
}

// MarshalSubmission renders the milestone as sent to the server: id, label,
// parent, start_date, end_date and capacity, absent members omitted. Dates
// are UTC with millisecond precision and capacity is a string.
func (m Milestone) MarshalSubmission() ([]byte, error) {
	out := milestoneSubmission{ID: m.ID, Label: m.Label}
	if m.Parent != nil {
		p := &parentSubmission{ID: m.Parent.ID, URI: m.Parent.URI}
		if m.Parent.Tracker.ID != 0 {
			tr := m.Parent.Tracker
			p.Tracker = &tr
		}
		out.Parent = p
	}
	if m.StartDate != nil {
		out.StartDate = m.StartDate.UTC().Format(SubmissionDateLayout)
	}
	if m.EndDate != nil {
		out.EndDate = m.EndDate.UTC().Format(SubmissionDateLayout)
	}
	if m.Capacity != nil {
		out.Capacity = strconv.FormatFloat(*m.Capacity, 'f', -1, 64)
	}
	return json.Marshal(out)
}

// BacklogItem is an artifact planned in a backlog.
type BacklogItem struct {
	ID                  int          `json:"id"`
	URI                 string       `json:"uri,omitempty"`
	HTMLURL             string       `json:"html_url,omitempty"`
	Label               string       `json:"label"`
	Status              string       `json:"status,omitempty"`
	InitialEffort       *float64     `json:"initial_effort,omitempty"`
	Project             Ref          `json:"project"`
	Artifact            ArtifactRef  `json:"artifact"`
	Parent              *ArtifactRef `json:"parent,omitempty"`
	AssignedMilestoneID int          `json:"assigned_milestone_id,omitempty"`
}

// TaskID is the composite identifier of the backlog item.
func (b BacklogItem) TaskID() taskid.ID {
	return taskid.New(b.Project.ID, b.Artifact.Tracker.ID, b.ID)
}

// Column is a cardwall status column.
type Column struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	Color string `json:"color,omitempty"`
}

// Card is a backlog item child shown on a cardwall. Card ids are strings
// assigned by the server, e.g. "6_31".
type Card struct {
	ID       string        `json:"id"`
	URI      string        `json:"uri,omitempty"`
	Label    string        `json:"label"`
	ColumnID *int          `json:"column_id,omitempty"`
	Status   string        `json:"status,omitempty"`
	Project  Ref           `json:"project"`
	Artifact ArtifactRef   `json:"artifact"`
	Values   *field.Values `json:"values,omitempty"`
}

// TaskID is the composite identifier of the artifact behind the card.
func (c Card) TaskID() taskid.ID {
	return taskid.New(c.Project.ID, c.Artifact.Tracker.ID, c.Artifact.ID)
}

type cardWire struct {
	ID       string            `json:"id"`
	URI      string            `json:"uri"`
	Label    string            `json:"label"`
	ColumnID *int              `json:"column_id"`
	Status   string            `json:"status"`
	Project  Ref               `json:"project"`
	Artifact ArtifactRef       `json:"artifact"`
	Values   []json.RawMessage `json:"values"`
}

// UnmarshalJSON decodes a card. Values of shapes that are not understood
// are skipped since cards only display them.
func (c *Card) UnmarshalJSON(data []byte) error {
	var w cardWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	values := &field.Values{}
	for _, raw := range w.Values {
		v, err := field.Decode(raw, nil)
		if errors.Is(err, field.ErrUnrecognizedShape) {
			continue
		}
		if err != nil {
			return fmt.Errorf("card %s: %w", w.ID, err)
		}
		values.Set(v)
	}
	*c = Card{
		ID:       w.ID,
		URI:      w.URI,
		Label:    w.Label,
		ColumnID: w.ColumnID,
		Status:   w.Status,
		Project:  w.Project,
		Artifact: w.Artifact,
		Values:   values,
	}
	return nil
}

type cardSubmission struct {
	Label    string            `json:"label"`
	ColumnID *int              `json:"column_id"`
	Values   []json.RawMessage `json:"values"`
}

// MarshalSubmission renders the card update body. Attachments are dropped.
func (c Card) MarshalSubmission() ([]byte, error) {
	var values []field.Value
	for _, v := range c.Values.All() {
		if _, ok := v.(field.Attachment); ok {
			continue
		}
		values = append(values, v)
	}
	encoded, err := field.EncodeAll(values)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cardSubmission{Label: c.Label, ColumnID: c.ColumnID, Values: encoded})
}

// Swimlane groups the cards of one backlog item.
type Swimlane struct {
	BacklogItem BacklogItem `json:"backlog_item"`
	Cards       []Card      `json:"cards"`
}

// Cardwall is the board of a milestone.
type Cardwall struct {
	Columns   []Column   `json:"columns"`
	Swimlanes []Swimlane `json:"swimlanes"`
}

// Column returns the column with the given id.
func (cw Cardwall) Column(id int) (Column, bool) {
	for _, c := range cw.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// Card finds a card by id in any swimlane.
func (cw Cardwall) Card(id string) (Card, bool) {
	for _, lane := range cw.Swimlanes {
		for _, c := range lane.Cards {
			if c.ID == id {
				return c, true
			}
		}
	}
	return Card{}, false
}

// IDList renders ids as the JSON array used to reorder backlogs, contents
// and sub-milestones.
func IDList(ids []int) ([]byte, error) {
	if ids == nil {
		ids = []int{}
	}
	return json.Marshal(ids)
}
