package domain

import (
	"strings"
	"time"

	"tuleapsync/internal/field"
)

// Ref points at a remote resource.
type Ref struct {
	ID  int    `json:"id"`
	URI string `json:"uri,omitempty"`
}

// ArtifactRef points at an artifact and the tracker it belongs to.
type ArtifactRef struct {
	ID      int    `json:"id"`
	URI     string `json:"uri,omitempty"`
	Tracker Ref    `json:"tracker"`
}

type Token struct {
	UserID int    `json:"user_id"`
	Token  string `json:"token"`
	URI    string `json:"uri,omitempty"`
}

type User struct {
	ID       int    `json:"id"`
	URI      string `json:"uri,omitempty"`
	Username string `json:"username"`
	RealName string `json:"real_name"`
	Email    string `json:"email,omitempty"`
}

// Person is the user as referenced from values and comments.
func (u User) Person() field.Person {
	return field.Person{ID: u.ID, Username: u.Username, RealName: u.RealName, Email: u.Email}
}

type UserGroup struct {
	ID      string `json:"id"`
	URI     string `json:"uri,omitempty"`
	Label   string `json:"label"`
	Key     string `json:"key,omitempty"`
	Members []User `json:"members,omitempty"`
}

type Project struct {
	ID        int    `json:"id"`
	URI       string `json:"uri,omitempty"`
	Label     string `json:"label"`
	ShortName string `json:"shortname,omitempty"`

	Trackers   []Tracker   `json:"trackers,omitempty"`
	Plannings  []Planning  `json:"plannings,omitempty"`
	UserGroups []UserGroup `json:"user_groups,omitempty"`
}

// Tracker returns the tracker of the project with the given id.
func (p Project) Tracker(id int) (Tracker, bool) {
	for _, t := range p.Trackers {
		if t.ID == id {
			return t, true
		}
	}
	return Tracker{}, false
}

// MilestoneTracker reports whether trackerID holds milestones of one of the
// project plannings.
func (p Project) MilestoneTracker(trackerID int) (Planning, bool) {
	for _, pl := range p.Plannings {
		if pl.MilestoneTracker.ID == trackerID {
			return pl, true
		}
	}
	return Planning{}, false
}

type FieldRef struct {
	FieldID int `json:"field_id"`
}

type StatusSemantic struct {
	FieldID  int   `json:"field_id"`
	ValueIDs []int `json:"value_ids"`
}

type Semantics struct {
	Title       *FieldRef       `json:"title,omitempty"`
	Status      *StatusSemantic `json:"status,omitempty"`
	Contributor *FieldRef       `json:"contributor,omitempty"`
}

type Tracker struct {
	ID          int          `json:"id"`
	URI         string       `json:"uri,omitempty"`
	HTMLURL     string       `json:"html_url,omitempty"`
	Label       string       `json:"label"`
	ItemName    string       `json:"item_name,omitempty"`
	Description string       `json:"description,omitempty"`
	Project     Ref          `json:"project"`
	Fields      field.Fields `json:"fields"`
	Semantics   Semantics    `json:"semantics"`
}

// Lookup makes the tracker a field catalog.
func (t Tracker) Lookup(fieldID int) (field.Field, bool) {
	return t.Fields.Lookup(fieldID)
}

// TitleFieldID is the field carrying the item title, 0 when none.
func (t Tracker) TitleFieldID() int {
	if t.Semantics.Title == nil {
		return 0
	}
	return t.Semantics.Title.FieldID
}

type Planning struct {
	ID               int    `json:"id"`
	URI              string `json:"uri,omitempty"`
	Label            string `json:"label"`
	Project          Ref    `json:"project"`
	MilestoneTracker Ref    `json:"milestone_tracker"`
	BacklogTrackers  []Ref  `json:"backlog_trackers"`
	MilestonesURI    string `json:"milestones_uri,omitempty"`
	HasCardwall      bool   `json:"has_cardwall,omitempty"`
}

type TrackerReport struct {
	ID       int    `json:"id"`
	URI      string `json:"uri,omitempty"`
	Label    string `json:"label"`
	IsPublic bool   `json:"is_public"`
}

// Comment is a non-empty changeset comment.
type Comment struct {
	Body        string       `json:"body"`
	Format      string       `json:"format"`
	SubmittedBy field.Person `json:"submitted_by"`
	SubmittedOn time.Time    `json:"submitted_on"`
}

type lastComment struct {
	Body   string `json:"body"`
	Format string `json:"format"`
}

// Changeset is one revision of an artifact.
type Changeset struct {
	ID          int         `json:"id"`
	SubmittedBy int         `json:"submitted_by"`
	SubmittedOn time.Time   `json:"submitted_on"`
	Email       string      `json:"email,omitempty"`
	LastComment lastComment `json:"last_comment"`
}

// UserResolver finds users by id.
type UserResolver interface {
	User(id int) (User, bool)
}

// CommentsFromChangesets keeps changesets with a non-blank comment body, in
// order. Submitters are resolved through users when possible.
func CommentsFromChangesets(changesets []Changeset, users UserResolver) []Comment {
	out := []Comment{}
	for _, cs := range changesets {
		if strings.TrimSpace(cs.LastComment.Body) == "" {
			continue
		}
		person := field.Person{ID: cs.SubmittedBy, Email: cs.Email}
		if users != nil {
			if u, ok := users.User(cs.SubmittedBy); ok {
				person = u.Person()
			}
		}
		format := cs.LastComment.Format
		if format == "" {
			format = "text"
		}
		out = append(out, Comment{
			Body:        cs.LastComment.Body,
			Format:      format,
			SubmittedBy: person,
			SubmittedOn: cs.SubmittedOn,
		})
	}
	return out
}

// ServerConfig is the configuration snapshot of a tracker server.
type ServerConfig struct {
	URL       string    `json:"url"`
	Self      User      `json:"self"`
	Projects  []Project `json:"projects"`
	Users     []User    `json:"users"`
	FetchedAt time.Time `json:"fetched_at"`
}

// User makes the configuration a UserResolver.
func (c ServerConfig) User(id int) (User, bool) {
	if c.Self.ID == id && id != 0 {
		return c.Self, true
	}
	for _, u := range c.Users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

func (c ServerConfig) Project(id int) (Project, bool) {
	for _, p := range c.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return Project{}, false
}

// Tracker finds a tracker in any project.
func (c ServerConfig) Tracker(id int) (Tracker, bool) {
	for _, p := range c.Projects {
		if t, ok := p.Tracker(id); ok {
			return t, true
		}
	}
	return Tracker{}, false
}
