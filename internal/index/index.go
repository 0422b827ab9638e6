// Package index defines the contract between the indexing engine and a
// full-text search backend. The engine never depends on a concrete backend;
// it only opens per-account indexers and hands them batches of documents.
package index

import (
	"context"
	"errors"
	"fmt"
)

// Topology describes how the configured backend is deployed.
type Topology string

const (
	// TopologySingleNode is a backend that tolerates exactly one writer.
	TopologySingleNode Topology = "single"

	// TopologyDistributed is a backend that accepts concurrent writers.
	TopologyDistributed Topology = "distributed"
)

// Standard field names every backend stores alongside a document.
const (
	FieldItemID     = "item_id"
	FieldMailboxID  = "mailbox_id"
	FieldItemType   = "item_type"
	FieldInDumpster = "in_dumpster"
	FieldPart       = "part"
)

// Common errors returned by index backends.
var (
	// ErrIndexClosed is returned when an indexer is used after its store was closed.
	ErrIndexClosed = errors.New("index is closed")

	// ErrInvalidAccount is returned when an index is requested without an account ID.
	ErrInvalidAccount = errors.New("invalid account id")
)

// ParseTopology converts a configuration value into a Topology.
func ParseTopology(s string) (Topology, error) {
	switch Topology(s) {
	case TopologySingleNode, TopologyDistributed:
		return Topology(s), nil
	default:
		return "", fmt.Errorf("unknown index topology %q", s)
	}
}

// Document is one indexable unit produced from a mailbox item. A single item
// may produce several documents (for example one per attachment).
type Document struct {
	ID     string
	Fields map[string]any
}

// ItemDocuments pairs an item with the documents generated for it.
type ItemDocuments struct {
	ItemID    int
	Documents []Document
}

// Deletion identifies the documents to remove for one item. When DocumentIDs
// is empty the backend removes every document stored for ItemID.
type Deletion struct {
	ItemID      int      `json:"item_id"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// Indexer writes to the index of a single account.
type Indexer interface {
	// Add stores all documents of the given items as one batch.
	Add(ctx context.Context, batch []ItemDocuments) error

	// Delete removes the documents described by deletions as one batch.
	Delete(ctx context.Context, deletions []Deletion) error
}

// Store hands out indexers keyed by account.
type Store interface {
	// Indexer returns the indexer for accountID, opening it if needed.
	Indexer(ctx context.Context, accountID string) (Indexer, error)

	// Close releases every open index.
	Close() error
}
