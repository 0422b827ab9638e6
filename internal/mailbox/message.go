package mailbox

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/phrazzld/mailindex/internal/index"
)

// ErrInvalidItem is returned when an item cannot be rendered into documents.
var ErrInvalidItem = errors.New("invalid mailbox item")

// Attachment is an attachment part whose text has already been extracted.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Text        string `json:"text"`
}

// Message is the default Item implementation. It covers every indexable item
// type with a subject/sender/body shape.
type Message struct {
	ItemID      int
	MailboxID   int
	ItemType    ItemType
	Dumpster    bool
	Subject     string
	Sender      string
	Recipients  []string
	Body        string
	Date        time.Time
	Attachments []Attachment
}

// ID returns the item id.
func (m *Message) ID() int { return m.ItemID }

// Type returns the item type.
func (m *Message) Type() ItemType { return m.ItemType }

// InDumpster reports whether the item lives in the dumpster.
func (m *Message) InDumpster() bool { return m.Dumpster }

// IndexDocuments renders the message as one top-level document plus one
// document per attachment when indexAttachments is set.
func (m *Message) IndexDocuments(indexAttachments bool) ([]index.Document, error) {
	if m.ItemID <= 0 {
		return nil, ErrInvalidItem
	}

	docs := make([]index.Document, 0, 1+len(m.Attachments))
	top := m.baseFields(0)
	top["subject"] = m.Subject
	top["from"] = m.Sender
	top["to"] = strings.Join(m.Recipients, " ")
	top["body"] = m.Body
	if !m.Date.IsZero() {
		top["date"] = m.Date.UTC()
	}
	docs = append(docs, index.Document{ID: DocumentID(m.ItemID, 0), Fields: top})

	if !indexAttachments {
		return docs, nil
	}
	for i, att := range m.Attachments {
		part := i + 1
		fields := m.baseFields(part)
		fields["filename"] = att.Name
		fields["content_type"] = att.ContentType
		fields["body"] = att.Text
		docs = append(docs, index.Document{ID: DocumentID(m.ItemID, part), Fields: fields})
	}
	return docs, nil
}

func (m *Message) baseFields(part int) map[string]any {
	return map[string]any{
		index.FieldItemID:     float64(m.ItemID),
		index.FieldMailboxID:  float64(m.MailboxID),
		index.FieldItemType:   m.ItemType.String(),
		index.FieldInDumpster: m.Dumpster,
		index.FieldPart:       float64(part),
	}
}

// DocumentID is the index document id for part of an item. Part 0 is the
// item itself.
func DocumentID(itemID, part int) string {
	if part == 0 {
		return strconv.Itoa(itemID)
	}
	return strconv.Itoa(itemID) + "_" + strconv.Itoa(part)
}
