// Package taskdata maps tracker items onto the generic attribute tree a host
// uses to display and edit a task. Keys are built from lower case words
// joined with '-' and '_'; composite ids only ever appear as values, so the
// ':' and '#' of an id never collide with a key.
package taskdata

import (
	"strconv"
	"strings"
)

// Type tags the kind of data an attribute holds.
type Type string

const (
	TypeContainer    Type = "container"
	TypeShortText    Type = "shortText"
	TypeLongText     Type = "longText"
	TypeInteger      Type = "integer"
	TypeDouble       Type = "double"
	TypeDate         Type = "date"
	TypeDateTime     Type = "dateTime"
	TypeBoolean      Type = "boolean"
	TypeSingleSelect Type = "singleSelect"
	TypeMultiSelect  Type = "multiSelect"
	TypeAttachment   Type = "attachment"
	TypeComment      Type = "comment"
	TypePerson       Type = "person"
	TypeTaskKey      Type = "taskKey"
	TypeURL          Type = "url"
)

// Option is a selectable value offered by a select attribute.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type Metadata struct {
	Kind     string   `json:"kind,omitempty"`
	Label    string   `json:"label,omitempty"`
	ReadOnly bool     `json:"read_only,omitempty"`
	Options  []Option `json:"options,omitempty"`
}

// Attribute is a node of the tree. Children keep insertion order.
type Attribute struct {
	ID       string       `json:"id"`
	Type     Type         `json:"type"`
	Metadata Metadata     `json:"metadata"`
	Values   []string     `json:"values,omitempty"`
	Children []*Attribute `json:"children,omitempty"`
}

// RootID is the id of every tree root.
const RootID = "root"

func NewRoot() *Attribute {
	return &Attribute{ID: RootID, Type: TypeContainer}
}

// Child returns the direct child with the given id, nil when absent.
func (a *Attribute) Child(id string) *Attribute {
	if a == nil {
		return nil
	}
	for _, c := range a.Children {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Find follows a path of child ids.
func (a *Attribute) Find(path ...string) *Attribute {
	cur := a
	for _, id := range path {
		cur = cur.Child(id)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Add returns the child with the given id, creating it at the end when
// absent. An existing child keeps its position and gets the new type.
func (a *Attribute) Add(id string, typ Type) *Attribute {
	if c := a.Child(id); c != nil {
		c.Type = typ
		return c
	}
	c := &Attribute{ID: id, Type: typ}
	a.Children = append(a.Children, c)
	return c
}

// Remove drops the child with the given id.
func (a *Attribute) Remove(id string) {
	for i, c := range a.Children {
		if c.ID == id {
			a.Children = append(a.Children[:i], a.Children[i+1:]...)
			return
		}
	}
}

// Value is the first value, empty when there is none.
func (a *Attribute) Value() string {
	if a == nil || len(a.Values) == 0 {
		return ""
	}
	return a.Values[0]
}

func (a *Attribute) SetValue(values ...string) *Attribute {
	a.Values = append([]string(nil), values...)
	return a
}

func (a *Attribute) WithLabel(label string) *Attribute {
	a.Metadata.Label = label
	return a
}

func (a *Attribute) WithKind(kind string) *Attribute {
	a.Metadata.Kind = kind
	return a
}

func (a *Attribute) ReadOnly() *Attribute {
	a.Metadata.ReadOnly = true
	return a
}

// Int parses the first value. Empty values give 0.
func (a *Attribute) Int() (int, error) {
	v := strings.TrimSpace(a.Value())
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (a *Attribute) children() []*Attribute {
	if a == nil {
		return nil
	}
	return a.Children
}

// Walk visits the tree depth first, parents before children.
func (a *Attribute) Walk(fn func(*Attribute)) {
	if a == nil {
		return
	}
	fn(a)
	for _, c := range a.Children {
		c.Walk(fn)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
