package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tuleapsync/internal/field"
	"tuleapsync/internal/taskid"
)

// Artifact is a tracker item.
type Artifact struct {
	ID               int           `json:"id"`
	URI              string        `json:"uri,omitempty"`
	HTMLURL          string        `json:"html_url,omitempty"`
	Tracker          Ref           `json:"tracker"`
	Project          Ref           `json:"project"`
	SubmittedBy      int           `json:"submitted_by,omitempty"`
	SubmittedOn      *time.Time    `json:"submitted_on,omitempty"`
	LastModifiedDate *time.Time    `json:"last_modified_date,omitempty"`
	Values           *field.Values `json:"values"`
	Comments         []Comment     `json:"comments,omitempty"`
}

// NewArtifact returns an artifact not yet created remotely.
func NewArtifact(projectID, trackerID int, values ...field.Value) Artifact {
	return Artifact{
		Tracker: Ref{ID: trackerID},
		Project: Ref{ID: projectID},
		Values:  field.NewValues(values...),
	}
}

// TaskID is the composite identifier of the artifact.
func (a Artifact) TaskID() taskid.ID {
	return taskid.New(a.Project.ID, a.Tracker.ID, a.ID)
}

// Value returns the value held for fieldID.
func (a Artifact) Value(fieldID int) (field.Value, bool) {
	return a.Values.Get(fieldID)
}

// Text is the literal text of fieldID, empty when absent or not literal.
func (a Artifact) Text(fieldID int) string {
	v, ok := a.Values.Get(fieldID)
	if !ok {
		return ""
	}
	if l, ok := v.(field.Literal); ok {
		return l.Text
	}
	return ""
}

type artifactWire struct {
	ID               int               `json:"id"`
	URI              string            `json:"uri"`
	HTMLURL          string            `json:"html_url"`
	Tracker          Ref               `json:"tracker"`
	Project          Ref               `json:"project"`
	SubmittedBy      int               `json:"submitted_by"`
	SubmittedOn      *time.Time        `json:"submitted_on"`
	LastModifiedDate *time.Time        `json:"last_modified_date"`
	Values           []json.RawMessage `json:"values"`
}

// ParseArtifact decodes an artifact as served by the tracker. catalog
// resolves file fields sent without descriptions; it may be nil.
func ParseArtifact(data []byte, catalog field.Catalog) (Artifact, error) {
	var w artifactWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Artifact{}, fmt.Errorf("decode artifact: %w", err)
	}
	values, err := field.DecodeAll(w.Values, catalog)
	if err != nil {
		return Artifact{}, fmt.Errorf("decode artifact %d: %w", w.ID, err)
	}
	return Artifact{
		ID:               w.ID,
		URI:              w.URI,
		HTMLURL:          w.HTMLURL,
		Tracker:          w.Tracker,
		Project:          w.Project,
		SubmittedBy:      w.SubmittedBy,
		SubmittedOn:      w.SubmittedOn,
		LastModifiedDate: w.LastModifiedDate,
		Values:           values,
	}, nil
}

type trackerID struct {
	ID int `json:"id"`
}

type createEnvelope struct {
	Values  []json.RawMessage `json:"values"`
	Tracker trackerID         `json:"tracker"`
}

type commentBody struct {
	Body   string `json:"body"`
	Format string `json:"format"`
}

type updateEnvelope struct {
	Values  []json.RawMessage `json:"values"`
	Comment *commentBody      `json:"comment,omitempty"`
}

// MarshalCreate renders the creation envelope, keeping only the values of
// fields the user may submit.
func (a Artifact) MarshalCreate(catalog field.Catalog) ([]byte, error) {
	if a.Tracker.ID == 0 {
		return nil, errors.New("artifact tracker is required")
	}
	values, err := field.EncodeAll(field.Filter(a.Values.All(), catalog, field.ModeSubmit))
	if err != nil {
		return nil, err
	}
	return json.Marshal(createEnvelope{Values: values, Tracker: trackerID{ID: a.Tracker.ID}})
}

// MarshalUpdate renders the modification envelope, keeping only the values
// of fields the user may update. A non-empty comment is attached as text.
// The artifact id travels in the URL, never in the body.
func (a Artifact) MarshalUpdate(catalog field.Catalog, comment string) ([]byte, error) {
	values, err := field.EncodeAll(field.Filter(a.Values.All(), catalog, field.ModeUpdate))
	if err != nil {
		return nil, err
	}
	env := updateEnvelope{Values: values}
	if comment != "" {
		env.Comment = &commentBody{Body: comment, Format: "text"}
	}
	return json.Marshal(env)
}
