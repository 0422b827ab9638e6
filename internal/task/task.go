package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/phrazzld/mailindex/internal/index"
	"github.com/phrazzld/mailindex/internal/mailbox"
)

// Kind identifies the variant of a Task.
type Kind string

// Task kinds
const (
	// KindAddByObject indexes items that are already materialized in memory.
	KindAddByObject Kind = "add_by_object"

	// KindAddByIdentifier indexes items that must first be loaded from the database.
	KindAddByIdentifier Kind = "add_by_identifier"

	// KindDelete removes documents from the index.
	KindDelete Kind = "delete"
)

// Errors returned by the task constructors.
var (
	// ErrInvalidRouting is returned when the account/mailbox/shard triple is incomplete.
	ErrInvalidRouting = errors.New("invalid task routing")

	// ErrNoItems is returned when a task would carry no work.
	ErrNoItems = errors.New("task has no items")
)

// Routing locates the mailbox a task operates on. All three fields are
// required: the account selects the index, the mailbox and shard select the
// database connection.
type Routing struct {
	AccountID string `json:"account_id"`
	MailboxID int    `json:"mailbox_id"`
	ShardID   int    `json:"shard_id"`
}

// Validate checks that the routing triple is complete.
func (r Routing) Validate() error {
	switch {
	case r.AccountID == "":
		return fmt.Errorf("%w: account id is required", ErrInvalidRouting)
	case r.MailboxID <= 0:
		return fmt.Errorf("%w: mailbox id must be positive, got %d", ErrInvalidRouting, r.MailboxID)
	case r.ShardID < 0:
		return fmt.Errorf("%w: shard id must not be negative, got %d", ErrInvalidRouting, r.ShardID)
	}
	return nil
}

// Task represents a unit of indexing work to be processed.
//
// The set of variants is closed: *AddByObject, *AddByIdentifier and *Delete.
// Consumers classify tasks with a type switch over those three types.
type Task interface {
	// ID returns the task's unique identifier, used for log correlation
	ID() uuid.UUID

	// Kind returns the task variant
	Kind() Kind

	// Routing returns the account/mailbox/shard triple
	Routing() Routing

	AccountID() string
	MailboxID() int
	ShardID() int

	// IndexAttachments reports whether attachment documents should be produced
	IndexAttachments() bool

	// IsReindex reports whether the task belongs to a bulk reindex job
	// and therefore contributes to the account's progress counters
	IsReindex() bool

	// ItemCount returns the number of items the task carries
	ItemCount() int

	// JobID returns the reindex job the task was queued for, uuid.Nil if none
	JobID() uuid.UUID

	// Retries returns how many times the task has been retried
	Retries() int

	// AddRetry records one more retry attempt
	AddRetry()

	sealed()
}

// Option customizes a task at construction time.
type Option func(*base)

// WithAttachments sets whether attachment documents are indexed.
func WithAttachments(indexAttachments bool) Option {
	return func(h *base) {
		h.indexAttachments = indexAttachments
	}
}

// AsReindex marks the task as part of a bulk reindex job. It has no effect on
// delete tasks.
func AsReindex() Option {
	return func(h *base) {
		h.reindex = true
	}
}

// InJob tags the task with the reindex job that queued it. Workers skip
// tasks whose job is no longer the account's current one.
func InJob(jobID uuid.UUID) Option {
	return func(h *base) {
		h.job = jobID
	}
}

// base holds the fields shared by every variant. Tasks are handed between
// goroutines, so retries is atomic.
type base struct {
	id               uuid.UUID
	job              uuid.UUID
	routing          Routing
	indexAttachments bool
	reindex          bool
	retries          atomic.Int32
}

func (h *base) init(r Routing, opts []Option) error {
	if err := r.Validate(); err != nil {
		return err
	}
	h.id = uuid.New()
	h.routing = r
	for _, opt := range opts {
		opt(h)
	}
	return nil
}

func (h *base) ID() uuid.UUID          { return h.id }
func (h *base) Routing() Routing       { return h.routing }
func (h *base) AccountID() string      { return h.routing.AccountID }
func (h *base) MailboxID() int         { return h.routing.MailboxID }
func (h *base) ShardID() int           { return h.routing.ShardID }
func (h *base) IndexAttachments() bool { return h.indexAttachments }
func (h *base) IsReindex() bool        { return h.reindex }
func (h *base) JobID() uuid.UUID       { return h.job }
func (h *base) Retries() int           { return int(h.retries.Load()) }
func (h *base) AddRetry()              { h.retries.Add(1) }
func (h *base) sealed()                {}

// AddByObject indexes live items.
type AddByObject struct {
	base
	items []mailbox.Item
}

// NewAddByObject creates a task that indexes the given materialized items.
func NewAddByObject(r Routing, items []mailbox.Item, opts ...Option) (*AddByObject, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	t := &AddByObject{items: append([]mailbox.Item(nil), items...)}
	if err := t.init(r, opts); err != nil {
		return nil, err
	}
	return t, nil
}

// Kind returns KindAddByObject.
func (t *AddByObject) Kind() Kind { return KindAddByObject }

// Items returns the items to index.
func (t *AddByObject) Items() []mailbox.Item { return t.items }

// ItemCount returns the number of items.
func (t *AddByObject) ItemCount() int { return len(t.items) }

// LogValue implements slog.LogValuer.
func (t *AddByObject) LogValue() slog.Value { return logValue(t) }

// AddByIdentifier indexes items that are loaded from the database by id.
type AddByIdentifier struct {
	base
	ids []mailbox.ItemIdentifier
}

// NewAddByIdentifier creates a task that loads and indexes the identified items.
func NewAddByIdentifier(r Routing, ids []mailbox.ItemIdentifier, opts ...Option) (*AddByIdentifier, error) {
	if len(ids) == 0 {
		return nil, ErrNoItems
	}
	t := &AddByIdentifier{ids: append([]mailbox.ItemIdentifier(nil), ids...)}
	if err := t.init(r, opts); err != nil {
		return nil, err
	}
	return t, nil
}

// Kind returns KindAddByIdentifier.
func (t *AddByIdentifier) Kind() Kind { return KindAddByIdentifier }

// Identifiers returns the identifiers of the items to index.
func (t *AddByIdentifier) Identifiers() []mailbox.ItemIdentifier { return t.ids }

// ItemCount returns the number of identifiers.
func (t *AddByIdentifier) ItemCount() int { return len(t.ids) }

// LogValue implements slog.LogValuer.
func (t *AddByIdentifier) LogValue() slog.Value { return logValue(t) }

// Delete removes documents from the index. Delete tasks never belong to a
// reindex job.
type Delete struct {
	base
	deletions []index.Deletion
}

// NewDelete creates a task that removes the described documents.
func NewDelete(r Routing, deletions []index.Deletion, opts ...Option) (*Delete, error) {
	if len(deletions) == 0 {
		return nil, ErrNoItems
	}
	t := &Delete{deletions: append([]index.Deletion(nil), deletions...)}
	if err := t.init(r, opts); err != nil {
		return nil, err
	}
	t.reindex = false
	t.job = uuid.Nil
	return t, nil
}

// Kind returns KindDelete.
func (t *Delete) Kind() Kind { return KindDelete }

// Deletions returns the deletion descriptors.
func (t *Delete) Deletions() []index.Deletion { return t.deletions }

// ItemCount returns the number of deletion descriptors.
func (t *Delete) ItemCount() int { return len(t.deletions) }

// LogValue implements slog.LogValuer.
func (t *Delete) LogValue() slog.Value { return logValue(t) }

func logValue(t Task) slog.Value {
	return slog.GroupValue(
		slog.String("task_id", t.ID().String()),
		slog.String("task_kind", string(t.Kind())),
		slog.String("account_id", t.AccountID()),
		slog.Int("mailbox_id", t.MailboxID()),
		slog.Int("shard_id", t.ShardID()),
		slog.Int("items", t.ItemCount()),
		slog.Int("retries", t.Retries()),
		slog.Bool("reindex", t.IsReindex()),
	)
}
