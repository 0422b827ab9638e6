// Package mailbox models the mailbox items the indexing engine operates on:
// item types, identifiers that point at stored rows, and live items that can
// render themselves into index documents.
package mailbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/mailindex/internal/index"
)

// ErrUnknownItemType is returned when a type name is not recognized.
var ErrUnknownItemType = errors.New("unknown item type")

// ItemType is the kind of a mailbox item. Values match the type column of the
// mail item tables.
type ItemType int

// Item types that can be indexed.
const (
	TypeUnknown     ItemType = 0
	TypeMessage     ItemType = 5
	TypeContact     ItemType = 6
	TypeDocument    ItemType = 8
	TypeAppointment ItemType = 11
	TypeTask        ItemType = 15
	TypeChat        ItemType = 16
)

var itemTypeNames = map[ItemType]string{
	TypeMessage:     "message",
	TypeContact:     "contact",
	TypeDocument:    "document",
	TypeAppointment: "appointment",
	TypeTask:        "task",
	TypeChat:        "chat",
}

// String returns the lower-case name of the type.
func (t ItemType) String() string {
	if name, ok := itemTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseItemType converts a name such as "message" into an ItemType.
func ParseItemType(s string) (ItemType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range itemTypeNames {
		if name == s {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("%w %q", ErrUnknownItemType, s)
}

// IndexableTypes returns every type the engine knows how to index.
func IndexableTypes() []ItemType {
	return []ItemType{TypeMessage, TypeContact, TypeDocument, TypeAppointment, TypeTask, TypeChat}
}

// ItemIdentifier points at a stored item row. InDumpster is a hint: the row
// may have moved between the live and dumpster tables since the identifier
// was created.
type ItemIdentifier struct {
	ID         int      `json:"id"`
	Type       ItemType `json:"type"`
	InDumpster bool     `json:"in_dumpster"`
}

// Item is a materialized mailbox item that can produce index documents.
type Item interface {
	ID() int
	Type() ItemType
	InDumpster() bool

	// IndexDocuments renders the item. Attachment documents are produced
	// only when indexAttachments is true.
	IndexDocuments(indexAttachments bool) ([]index.Document, error)
}
