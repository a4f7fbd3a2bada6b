package field

import "slices"

// Value is the value an item holds for one field. It is one of Literal,
// Bound or Attachment.
type Value interface {
	FieldID() int
	value()
}

// Literal is a free-form textual value.
type Literal struct {
	ID   int
	Text string
}

// Bound references bind options of a selection field. ValueIDs is an
// ordered set.
type Bound struct {
	ID       int
	ValueIDs []int
}

// Attachment lists the files attached to an item through a file field.
type Attachment struct {
	ID    int
	Files []File
}

// File is an attachment as described by the server. The content itself is
// never part of a value.
type File struct {
	RemoteID    int
	Name        string
	UploadedBy  Person
	Size        int64
	Description string
	MimeType    string
}

// Person is a tracker user as referenced from values and comments.
type Person struct {
	ID       int    `json:"id"`
	Username string `json:"username,omitempty"`
	RealName string `json:"real_name,omitempty"`
	Email    string `json:"email,omitempty"`
}

func (v Literal) FieldID() int    { return v.ID }
func (v Bound) FieldID() int      { return v.ID }
func (v Attachment) FieldID() int { return v.ID }

func (Literal) value()    {}
func (Bound) value()      {}
func (Attachment) value() {}

// NewBound builds a Bound value, dropping duplicate ids while keeping the
// first occurrence order.
func NewBound(fieldID int, valueIDs ...int) Bound {
	ids := make([]int, 0, len(valueIDs))
	for _, id := range valueIDs {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return Bound{ID: fieldID, ValueIDs: ids}
}

// Values is an ordered collection keyed by field id. Setting a value for a
// field already present replaces it in place. The zero value is ready to use.
type Values struct {
	order []int
	byID  map[int]Value
}

// NewValues returns a collection holding vs, later entries winning.
func NewValues(vs ...Value) *Values {
	out := &Values{}
	for _, v := range vs {
		out.Set(v)
	}
	return out
}

// Set stores v, replacing any value for the same field.
func (vs *Values) Set(v Value) {
	if vs.byID == nil {
		vs.byID = map[int]Value{}
	}
	id := v.FieldID()
	if _, ok := vs.byID[id]; !ok {
		vs.order = append(vs.order, id)
	}
	vs.byID[id] = v
}

// Get returns the value for fieldID.
func (vs *Values) Get(fieldID int) (Value, bool) {
	if vs == nil || vs.byID == nil {
		return nil, false
	}
	v, ok := vs.byID[fieldID]
	return v, ok
}

// Remove drops the value for fieldID if present.
func (vs *Values) Remove(fieldID int) {
	if vs == nil || vs.byID == nil {
		return
	}
	if _, ok := vs.byID[fieldID]; !ok {
		return
	}
	delete(vs.byID, fieldID)
	vs.order = slices.DeleteFunc(vs.order, func(id int) bool { return id == fieldID })
}

// All returns the values in insertion order.
func (vs *Values) All() []Value {
	if vs == nil {
		return nil
	}
	out := make([]Value, 0, len(vs.order))
	for _, id := range vs.order {
		out = append(out, vs.byID[id])
	}
	return out
}

func (vs *Values) Len() int {
	if vs == nil {
		return 0
	}
	return len(vs.order)
}

// Mode selects which permission a value must carry to be sent to the server.
type Mode int

const (
	// ModeSubmit keeps values of fields the user may set on creation.
	ModeSubmit Mode = iota
	// ModeUpdate keeps values of fields the user may modify.
	ModeUpdate
)

func (m Mode) permission() Permission {
	if m == ModeUpdate {
		return PermUpdate
	}
	return PermSubmit
}

// Filter keeps the values whose field grants the permission of mode,
// preserving order. Values of unknown fields and attachments are dropped.
func Filter(values []Value, catalog Catalog, mode Mode) []Value {
	perm := mode.permission()
	out := make([]Value, 0, len(values))
	for _, v := range values {
		if _, ok := v.(Attachment); ok {
			continue
		}
		f, ok := catalog.Lookup(v.FieldID())
		if !ok || !f.Can(perm) {
			continue
		}
		out = append(out, v)
	}
	return out
}
