// Package store defines the persistence contract the indexing engine relies
// on: transactional, mailbox-scoped connections to the database shard that
// stores a mailbox's item rows. Concrete implementations live under
// internal/platform.
package store
