//go:build integration

package testdb

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/mailindex/internal/platform/postgres"
	"github.com/stretchr/testify/require"
)

// TestTimeout defines a default timeout for test database operations.
const TestTimeout = 5 * time.Second

var (
	migrateOnce sync.Once
	migrateErr  error
	nextMailbox atomic.Int64
)

// GetTestDatabaseURL returns the database URL for tests.
// It checks MAILINDEX_TEST_DB_URL and DATABASE_URL in that order.
func GetTestDatabaseURL() string {
	if url := os.Getenv("MAILINDEX_TEST_DB_URL"); url != "" {
		return url
	}
	return os.Getenv("DATABASE_URL")
}

// Open returns a migrated shard database, skipping the test when no test
// database is configured. The connection is closed when the test ends.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	url := GetTestDatabaseURL()
	if url == "" {
		t.Skip("MAILINDEX_TEST_DB_URL not set - skipping integration test")
	}

	db, err := sql.Open("pgx", url)
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "Failed to ping test database")

	migrateOnce.Do(func() {
		migrateErr = postgres.Migrate(context.Background(), db, postgres.MigrateUp, nil)
	})
	require.NoError(t, migrateErr, "Failed to run migrations")

	return db
}

// NewMailboxID allocates a mailbox id no other test in this process uses and
// deletes its rows when the test ends.
func NewMailboxID(t *testing.T, db *sql.DB) int {
	t.Helper()

	id := int(time.Now().UnixNano()%1_000_000)*100 + int(nextMailbox.Add(1)%100) + 1
	t.Cleanup(func() {
		for _, table := range []string{"mail_item", "mail_item_dumpster"} {
			if _, err := db.Exec("DELETE FROM "+table+" WHERE mailbox_id = $1", id); err != nil {
				t.Logf("Warning: failed to clean up %s: %v", table, err)
			}
		}
	})
	return id
}

// InsertItem inserts a message row into the live or dumpster table.
func InsertItem(t *testing.T, db *sql.DB, mailboxID, id int, inDumpster bool) {
	t.Helper()

	table := "mail_item"
	if inDumpster {
		table = "mail_item_dumpster"
	}
	_, err := db.Exec(
		"INSERT INTO "+table+" (mailbox_id, id, type, subject, recipients) VALUES ($1, $2, 5, $3, $4)",
		mailboxID, id, "subject", `["to@example.com"]`,
	)
	require.NoError(t, err, "Failed to insert item")
}

// IsIndexed reports whether a row carries an index marker.
func IsIndexed(t *testing.T, db *sql.DB, mailboxID, id int, inDumpster bool) bool {
	t.Helper()

	table := "mail_item"
	if inDumpster {
		table = "mail_item_dumpster"
	}
	var indexed bool
	err := db.QueryRow(
		"SELECT index_id IS NOT NULL FROM "+table+" WHERE mailbox_id = $1 AND id = $2",
		mailboxID, id,
	).Scan(&indexed)
	require.NoError(t, err)
	return indexed
}
