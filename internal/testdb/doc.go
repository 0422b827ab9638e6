//go:build integration

// Package testdb provides utilities for integration tests that need a real
// PostgreSQL shard.
//
// Tests skip themselves unless MAILINDEX_TEST_DB_URL (or DATABASE_URL) is
// set. The database is migrated with the embedded shard migrations on first
// use. Rows are isolated by mailbox id: every test allocates its own mailbox
// with NewMailboxID and the rows are deleted when the test ends.
//
// # Basic Usage
//
//	func TestShard(t *testing.T) {
//	    db := testdb.Open(t)
//	    mailboxID := testdb.NewMailboxID(t, db)
//	    testdb.InsertItem(t, db, mailboxID, 42, false)
//	    ...
//	}
package testdb
