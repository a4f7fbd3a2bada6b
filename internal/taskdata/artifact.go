package taskdata

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tuleapsync/internal/domain"
	"tuleapsync/internal/field"
	"tuleapsync/internal/taskid"
)

// Task kinds stored under KeyKind.
const (
	KindArtifact    = "artifact"
	KindMilestone   = "milestone"
	KindTopPlanning = "top_planning"
	KindBacklogItem = "backlog_item"
)

const (
	KeyTaskKey    = "task_key"
	KeyKind       = "task_kind"
	KeyProject    = "project_id"
	KeyTracker    = "tracker_id"
	KeySummary    = "summary"
	KeyURL        = "task_url"
	KeyCreated    = "date_created"
	KeyModified   = "date_modified"
	KeyComments   = "comments"
	KeyNewComment = "new_comment"

	fieldPrefix   = "field-"
	commentPrefix = "comment-"
	filePrefix    = "-file-"
)

// ErrNoTaskKey is returned when a tree has no task key.
var ErrNoTaskKey = errors.New("task has no key")

// FieldKey is the key of the attribute holding the value of a field.
func FieldKey(fieldID int) string { return fieldPrefix + strconv.Itoa(fieldID) }

// TaskKey reads the composite id of a task tree.
func TaskKey(root *Attribute) (taskid.ID, error) {
	raw := root.Child(KeyTaskKey).Value()
	if raw == "" {
		return taskid.ID{}, ErrNoTaskKey
	}
	return taskid.Parse(raw)
}

// Kind is the task kind of a tree.
func Kind(root *Attribute) string { return root.Child(KeyKind).Value() }

// NewComment is the comment to send with the next update.
func NewComment(root *Attribute) string {
	return strings.TrimSpace(root.Child(KeyNewComment).Value())
}

func setHeader(root *Attribute, id taskid.ID, kind string) {
	root.Add(KeyTaskKey, TypeTaskKey).ReadOnly().SetValue(id.String())
	root.Add(KeyKind, TypeShortText).ReadOnly().SetValue(kind)
	root.Add(KeyProject, TypeInteger).ReadOnly().SetValue(strconv.Itoa(id.ProjectID))
	root.Add(KeyTracker, TypeInteger).ReadOnly().SetValue(strconv.Itoa(id.TrackerID))
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func attributeType(k field.Kind) Type {
	switch k {
	case field.KindText:
		return TypeLongText
	case field.KindInt, field.KindArtifactID:
		return TypeInteger
	case field.KindFloat, field.KindComputed:
		return TypeDouble
	case field.KindDate:
		return TypeDate
	case field.KindSubmittedOn, field.KindLastUpdateOn:
		return TypeDateTime
	case field.KindSelectBox, field.KindRadioButton:
		return TypeSingleSelect
	case field.KindMultiSelect, field.KindCheckbox:
		return TypeMultiSelect
	case field.KindFile:
		return TypeAttachment
	case field.KindSubmittedBy:
		return TypePerson
	default:
		return TypeShortText
	}
}

// FromArtifact builds the tree of an artifact. Every field of the tracker
// gets an attribute, in tracker order, whether or not the artifact holds a
// value for it; values of fields unknown to the tracker are kept read-only
// at the end.
func FromArtifact(a domain.Artifact, tracker domain.Tracker) *Attribute {
	root := NewRoot()
	setHeader(root, a.TaskID(), KindArtifact)
	if title := tracker.TitleFieldID(); title != 0 {
		root.Add(KeySummary, TypeShortText).ReadOnly().WithLabel("Summary").SetValue(a.Text(title))
	}
	if a.HTMLURL != "" {
		root.Add(KeyURL, TypeURL).ReadOnly().SetValue(a.HTMLURL)
	}
	if v := formatTime(a.SubmittedOn); v != "" {
		root.Add(KeyCreated, TypeDateTime).ReadOnly().SetValue(v)
	}
	if v := formatTime(a.LastModifiedDate); v != "" {
		root.Add(KeyModified, TypeDateTime).ReadOnly().SetValue(v)
	}

	known := map[int]bool{}
	for _, f := range tracker.Fields {
		known[f.ID] = true
		attr := root.Add(FieldKey(f.ID), attributeType(f.Kind)).WithKind(string(f.Kind)).WithLabel(f.Label)
		attr.Metadata.ReadOnly = f.ReadOnly()
		for _, o := range f.Options {
			attr.Metadata.Options = append(attr.Metadata.Options, Option{Value: strconv.Itoa(o.ID), Label: o.Label})
		}
		if v, ok := a.Value(f.ID); ok {
			setFieldValue(attr, v)
		}
	}
	for _, v := range a.Values.All() {
		if known[v.FieldID()] {
			continue
		}
		setFieldValue(root.Add(FieldKey(v.FieldID()), TypeShortText).ReadOnly(), v)
	}

	if len(a.Comments) > 0 {
		comments := root.Add(KeyComments, TypeContainer).ReadOnly()
		for i, c := range a.Comments {
			id := commentPrefix + strconv.Itoa(i)
			attr := comments.Add(id, TypeComment).WithKind(c.Format).SetValue(c.Body)
			attr.Add(id+"-author", TypePerson).SetValue(c.SubmittedBy.Username).WithLabel(c.SubmittedBy.RealName)
			attr.Add(id+"-date", TypeDateTime).SetValue(c.SubmittedOn.UTC().Format(time.RFC3339))
		}
	}
	return root
}

func setFieldValue(attr *Attribute, v field.Value) {
	switch v := v.(type) {
	case field.Literal:
		attr.SetValue(v.Text)
	case field.Bound:
		values := make([]string, 0, len(v.ValueIDs))
		for _, id := range v.ValueIDs {
			values = append(values, strconv.Itoa(id))
		}
		attr.SetValue(values...)
	case field.Attachment:
		attr.Values = nil
		for i, f := range v.Files {
			id := attr.ID + filePrefix + strconv.Itoa(i)
			file := attr.Add(id, TypeAttachment).ReadOnly().WithKind(f.MimeType).WithLabel(f.Description)
			file.SetValue(f.Name)
			file.Add(id+"-remote_id", TypeInteger).SetValue(strconv.Itoa(f.RemoteID))
			file.Add(id+"-size", TypeInteger).SetValue(strconv.FormatInt(f.Size, 10))
			if f.UploadedBy.ID != 0 {
				file.Add(id+"-author", TypePerson).SetValue(strconv.Itoa(f.UploadedBy.ID))
			}
		}
	}
}

// ToArtifact reads an artifact back from its tree, one value per tracker
// field present in the tree. Attachment fields are left out; read-only
// fields are kept and dropped later by submission filtering.
func ToArtifact(root *Attribute, tracker domain.Tracker) (domain.Artifact, error) {
	id, err := TaskKey(root)
	if err != nil {
		return domain.Artifact{}, err
	}
	if id.TrackerID != tracker.ID {
		return domain.Artifact{}, fmt.Errorf("task %s does not belong to tracker %d", id, tracker.ID)
	}
	a := domain.NewArtifact(id.ProjectID, id.TrackerID)
	a.ID = id.ItemID
	for _, f := range tracker.Fields {
		attr := root.Child(FieldKey(f.ID))
		if attr == nil || f.Kind == field.KindFile {
			continue
		}
		if f.Kind.Bound() {
			ids := make([]int, 0, len(attr.Values))
			for _, raw := range attr.Values {
				raw = strings.TrimSpace(raw)
				if raw == "" {
					continue
				}
				n, err := strconv.Atoi(raw)
				if err != nil {
					return domain.Artifact{}, fmt.Errorf("field %d: option %q is not an id", f.ID, raw)
				}
				ids = append(ids, n)
			}
			a.Values.Set(field.NewBound(f.ID, ids...))
			continue
		}
		a.Values.Set(field.Literal{ID: f.ID, Text: attr.Value()})
	}
	return a, nil
}
