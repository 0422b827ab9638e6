package store

import (
	"context"
	"time"

	"github.com/phrazzld/mailindex/internal/mailbox"
)

// ItemRow is the stored representation of a mailbox item, as loaded from the
// live or dumpster item table of a shard.
type ItemRow struct {
	ID          int
	MailboxID   int
	Type        mailbox.ItemType
	InDumpster  bool
	Subject     string
	Sender      string
	Recipients  []string
	Body        string
	Date        time.Time
	Attachments []mailbox.Attachment
	Indexed     bool
}

// Message converts the row into the default materialized item.
func (r *ItemRow) Message() *mailbox.Message {
	return &mailbox.Message{
		ItemID:      r.ID,
		MailboxID:   r.MailboxID,
		ItemType:    r.Type,
		Dumpster:    r.InDumpster,
		Subject:     r.Subject,
		Sender:      r.Sender,
		Recipients:  r.Recipients,
		Body:        r.Body,
		Date:        r.Date,
		Attachments: r.Attachments,
	}
}

// ShardProvider opens transactional connections to the database shard that
// holds a mailbox.
type ShardProvider interface {
	// Conn opens a connection scoped to one mailbox on one shard. The caller
	// must Close it.
	Conn(ctx context.Context, mailboxID, shardID int) (ShardConn, error)
}

// ShardConn is a transaction on one shard, scoped to one mailbox.
type ShardConn interface {
	// GetByID loads one item row. It returns ErrItemNotFound when no row
	// matches in the table selected by inDumpster.
	GetByID(ctx context.Context, id int, itemType mailbox.ItemType, inDumpster bool) (*ItemRow, error)

	// ListItems returns identifiers of every live item of the given types,
	// newest first. An empty type list selects all indexable types.
	ListItems(ctx context.Context, types []mailbox.ItemType) ([]mailbox.ItemIdentifier, error)

	// NonIndexedItems returns identifiers of items not yet marked indexed.
	NonIndexedItems(ctx context.Context) ([]mailbox.ItemIdentifier, error)

	// SetIndexIDs marks the given items as indexed in one statement per table.
	SetIndexIDs(ctx context.Context, ids []int) error

	// Commit commits the transaction.
	Commit() error

	// Close rolls back the transaction unless it was committed. It is a
	// no-op after a successful Commit.
	Close() error
}
