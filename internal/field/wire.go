package field

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrUnrecognizedShape is matched by every UnrecognizedShapeError.
	ErrUnrecognizedShape = errors.New("unrecognized field value shape")
	// ErrNotSubmittable is returned when encoding an attachment value.
	ErrNotSubmittable = errors.New("attachment values are not submitted inline")
)

// UnrecognizedShapeError reports a wire value matching no known variant.
type UnrecognizedShapeError struct {
	FieldID int
}

func (e *UnrecognizedShapeError) Error() string {
	return fmt.Sprintf("field %d: unrecognized value shape", e.FieldID)
}

func (e *UnrecognizedShapeError) Is(target error) bool { return target == ErrUnrecognizedShape }

type literalWire struct {
	FieldID int    `json:"field_id"`
	Value   string `json:"value"`
}

type boundWire struct {
	FieldID      int   `json:"field_id"`
	BindValueIDs []int `json:"bind_value_ids"`
}

type fileWire struct {
	ID          int    `json:"id"`
	SubmittedBy int    `json:"submitted_by"`
	Description string `json:"description"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Type        string `json:"type"`
}

// Encode renders v in its submission shape.
func Encode(v Value) (json.RawMessage, error) {
	switch v := v.(type) {
	case Literal:
		return json.Marshal(literalWire{FieldID: v.ID, Value: v.Text})
	case Bound:
		ids := v.ValueIDs
		if ids == nil {
			ids = []int{}
		}
		return json.Marshal(boundWire{FieldID: v.ID, BindValueIDs: ids})
	case Attachment:
		return nil, fmt.Errorf("field %d: %w", v.ID, ErrNotSubmittable)
	default:
		return nil, fmt.Errorf("unsupported field value %T", v)
	}
}

// EncodeAll encodes values in order. A nil or empty input yields an empty,
// non-nil slice so that it serializes as [].
func EncodeAll(values []Value) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		raw, err := Encode(v)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// Decode parses one element of an item "values" array. Rules apply in order:
// a primitive or null "value" gives a Literal, then "bind_value_id" and
// "bind_value_ids" give a Bound, then "file_descriptions" gives an
// Attachment. A known file field without any of these yields an empty
// Attachment. catalog may be nil.
func Decode(raw json.RawMessage, catalog Catalog) (Value, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode field value: %w", err)
	}
	idRaw, ok := obj["field_id"]
	if !ok {
		return nil, errors.New("decode field value: missing field_id")
	}
	var fieldID int
	if err := json.Unmarshal(idRaw, &fieldID); err != nil {
		return nil, fmt.Errorf("decode field value: field_id: %w", err)
	}

	if v, ok := obj["value"]; ok {
		if text, ok := primitiveText(v); ok {
			return Literal{ID: fieldID, Text: text}, nil
		}
		// Structured values (computed fields, cross references) are kept
		// as their compact JSON text.
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, fmt.Errorf("field %d: value: %w", fieldID, err)
		}
		return Literal{ID: fieldID, Text: buf.String()}, nil
	}
	if v, ok := obj["bind_value_id"]; ok && !isNull(v) {
		var id int
		if err := json.Unmarshal(v, &id); err != nil {
			return nil, fmt.Errorf("field %d: bind_value_id: %w", fieldID, err)
		}
		return NewBound(fieldID, id), nil
	}
	if v, ok := obj["bind_value_ids"]; ok && !isNull(v) {
		var ids []int
		if err := json.Unmarshal(v, &ids); err != nil {
			return nil, fmt.Errorf("field %d: bind_value_ids: %w", fieldID, err)
		}
		return NewBound(fieldID, ids...), nil
	}
	if v, ok := obj["file_descriptions"]; ok && !isNull(v) {
		var files []fileWire
		if err := json.Unmarshal(v, &files); err != nil {
			return nil, fmt.Errorf("field %d: file_descriptions: %w", fieldID, err)
		}
		att := Attachment{ID: fieldID, Files: make([]File, 0, len(files))}
		for _, f := range files {
			att.Files = append(att.Files, File{
				RemoteID:    f.ID,
				Name:        f.Name,
				UploadedBy:  Person{ID: f.SubmittedBy},
				Size:        f.Size,
				Description: f.Description,
				MimeType:    f.Type,
			})
		}
		return att, nil
	}
	if catalog != nil {
		if f, ok := catalog.Lookup(fieldID); ok && f.Kind == KindFile {
			return Attachment{ID: fieldID}, nil
		}
	}
	return nil, &UnrecognizedShapeError{FieldID: fieldID}
}

// DecodeAll decodes a "values" array, later entries for the same field
// replacing earlier ones.
func DecodeAll(raws []json.RawMessage, catalog Catalog) (*Values, error) {
	out := &Values{}
	for _, raw := range raws {
		v, err := Decode(raw, catalog)
		if err != nil {
			return nil, err
		}
		out.Set(v)
	}
	return out, nil
}

func primitiveText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", false
	}
	switch trimmed[0] {
	case 'n':
		return "", true
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		return s, true
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	case '{', '[':
		return "", false
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return "", false
		}
		return n.String(), true
	}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

type attachmentWire struct {
	FieldID          int        `json:"field_id"`
	FileDescriptions []fileWire `json:"file_descriptions"`
}

// MarshalJSON renders every value in its read shape, attachments included,
// so that a collection survives a round trip through storage.
func (vs *Values) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, vs.Len())
	for _, v := range vs.All() {
		if att, ok := v.(Attachment); ok {
			w := attachmentWire{FieldID: att.ID, FileDescriptions: make([]fileWire, 0, len(att.Files))}
			for _, f := range att.Files {
				w.FileDescriptions = append(w.FileDescriptions, fileWire{
					ID:          f.RemoteID,
					SubmittedBy: f.UploadedBy.ID,
					Description: f.Description,
					Name:        f.Name,
					Size:        f.Size,
					Type:        f.MimeType,
				})
			}
			raw, err := json.Marshal(w)
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
			continue
		}
		raw, err := Encode(v)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

func (vs *Values) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	decoded, err := DecodeAll(raws, nil)
	if err != nil {
		return err
	}
	*vs = *decoded
	return nil
}
