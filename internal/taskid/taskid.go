// Package taskid encodes the (project, tracker, item) triple that identifies a
// remote tracker item into the single opaque key used by the host and the
// local mirror, and parses it back.
//
// The external form is "<projectId>:<trackerId>#<itemId>", e.g. "200:700#42".
// An item id of 0 denotes an item that does not exist remotely yet.
package taskid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	projectSeparator = ":"
	itemSeparator    = "#"
)

// ErrMalformed is matched by every MalformedError.
var ErrMalformed = errors.New("malformed identifier")

// MalformedError reports a token that is not a valid composite identifier.
type MalformedError struct {
	Token  string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed identifier %q: %s", e.Token, e.Reason)
}

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

// ID identifies one item of one tracker of one project.
type ID struct {
	ProjectID int
	TrackerID int
	ItemID    int
}

// New builds an ID. It does not validate the parts; negative values are
// rejected when the key is parsed back.
func New(projectID, trackerID, itemID int) ID {
	return ID{ProjectID: projectID, TrackerID: trackerID, ItemID: itemID}
}

// Encode returns the external form of the triple.
func Encode(projectID, trackerID, itemID int) string {
	return strconv.Itoa(projectID) + projectSeparator + strconv.Itoa(trackerID) + itemSeparator + strconv.Itoa(itemID)
}

func (id ID) String() string {
	return Encode(id.ProjectID, id.TrackerID, id.ItemID)
}

// IsNew reports whether the id points at an item not yet created remotely.
func (id ID) IsNew() bool { return id.ItemID == 0 }

// WithItem returns a copy of id pointing at another item of the same tracker.
func (id ID) WithItem(itemID int) ID {
	id.ItemID = itemID
	return id
}

// Parse decodes a key produced by Encode.
func Parse(token string) (ID, error) {
	head, itemPart, ok := strings.Cut(token, itemSeparator)
	if !ok {
		return ID{}, &MalformedError{Token: token, Reason: "missing '" + itemSeparator + "' separator"}
	}
	projectPart, trackerPart, ok := strings.Cut(head, projectSeparator)
	if !ok {
		return ID{}, &MalformedError{Token: token, Reason: "missing '" + projectSeparator + "' separator"}
	}
	project, err := parseSegment(token, "project id", projectPart)
	if err != nil {
		return ID{}, err
	}
	tracker, err := parseSegment(token, "tracker id", trackerPart)
	if err != nil {
		return ID{}, err
	}
	item, err := parseSegment(token, "item id", itemPart)
	if err != nil {
		return ID{}, err
	}
	return ID{ProjectID: project, TrackerID: tracker, ItemID: item}, nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(token string) ID {
	id, err := Parse(token)
	if err != nil {
		panic(err)
	}
	return id
}

func parseSegment(token, name, segment string) (int, error) {
	if segment == "" {
		return 0, &MalformedError{Token: token, Reason: name + " is empty"}
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return 0, &MalformedError{Token: token, Reason: fmt.Sprintf("%s %q is not a non-negative integer", name, segment)}
		}
	}
	v, err := strconv.Atoi(segment)
	if err != nil {
		return 0, &MalformedError{Token: token, Reason: fmt.Sprintf("%s %q out of range", name, segment)}
	}
	return v, nil
}

// DisplayKey is the human readable key shown for an item, e.g. "Sprints #12".
func DisplayKey(label string, itemID int) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "#" + strconv.Itoa(itemID)
	}
	return label + " #" + strconv.Itoa(itemID)
}
