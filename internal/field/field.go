// Package field models tracker fields and the values an item carries for them.
package field

import "slices"

// Permission is one of the rights a user has on a tracker field.
type Permission string

const (
	PermRead   Permission = "read"
	PermSubmit Permission = "submit"
	PermUpdate Permission = "update"
)

// Kind is the tracker field type as reported by the server.
type Kind string

const (
	KindString       Kind = "string"
	KindText         Kind = "text"
	KindInt          Kind = "int"
	KindFloat        Kind = "float"
	KindDate         Kind = "date"
	KindSelectBox    Kind = "sb"
	KindMultiSelect  Kind = "msb"
	KindRadioButton  Kind = "rb"
	KindCheckbox     Kind = "cb"
	KindFile         Kind = "file"
	KindArtifactID   Kind = "aid"
	KindSubmittedBy  Kind = "subby"
	KindSubmittedOn  Kind = "subon"
	KindLastUpdateOn Kind = "lud"
	KindComputed     Kind = "computed"
	KindArtifactLink Kind = "art_link"
)

// Bound reports whether values of this kind reference bind options.
func (k Kind) Bound() bool {
	switch k {
	case KindSelectBox, KindMultiSelect, KindRadioButton, KindCheckbox:
		return true
	}
	return false
}

// Multiple reports whether more than one bind option may be selected.
func (k Kind) Multiple() bool {
	return k == KindMultiSelect || k == KindCheckbox
}

// BindOption is a selectable value of a bound field.
type BindOption struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// Field describes one field of a tracker.
type Field struct {
	ID          int          `json:"field_id"`
	Name        string       `json:"name"`
	Label       string       `json:"label"`
	Kind        Kind         `json:"type"`
	Permissions []Permission `json:"permissions"`
	Options     []BindOption `json:"values,omitempty"`
}

// Can reports whether the field grants p.
func (f Field) Can(p Permission) bool {
	return slices.Contains(f.Permissions, p)
}

// ReadOnly is true when the field can neither be submitted nor updated.
func (f Field) ReadOnly() bool {
	return !f.Can(PermSubmit) && !f.Can(PermUpdate)
}

// Option returns the bind option with the given id.
func (f Field) Option(id int) (BindOption, bool) {
	for _, o := range f.Options {
		if o.ID == id {
			return o, true
		}
	}
	return BindOption{}, false
}

// Catalog resolves field ids to their definition.
type Catalog interface {
	Lookup(fieldID int) (Field, bool)
}

// Fields is the ordered field list of a tracker.
type Fields []Field

func (fs Fields) Lookup(fieldID int) (Field, bool) {
	for _, f := range fs {
		if f.ID == fieldID {
			return f, true
		}
	}
	return Field{}, false
}
