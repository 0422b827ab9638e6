package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	// register the pgx database/sql driver
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/mailindex/internal/config"
	"github.com/phrazzld/mailindex/internal/mailbox"
	"github.com/phrazzld/mailindex/internal/platform/logger"
	"github.com/phrazzld/mailindex/internal/store"
)

// Table names of the live and soft-deleted item rows.
const (
	itemTable     = "mail_item"
	dumpsterTable = "mail_item_dumpster"
)

// ShardPool implements store.ShardProvider over one *sql.DB per shard.
type ShardPool struct {
	dbs    map[int]*sql.DB
	logger *slog.Logger
}

// OpenShardPool opens a connection pool for every configured shard. It does
// not contact the databases; use Ping for that.
func OpenShardPool(cfg config.DatabaseConfig, logger *slog.Logger) (*ShardPool, error) {
	urls := cfg.ShardURLs()
	if len(urls) == 0 {
		return nil, config.ErrNoShards
	}

	dbs := make(map[int]*sql.DB, len(urls))
	for id, url := range urls {
		db, err := sql.Open("pgx", url)
		if err != nil {
			for _, opened := range dbs {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("failed to open database for shard %d: %w", id, err)
		}
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
			db.SetMaxIdleConns((cfg.MaxOpenConns + 1) / 2)
		}
		db.SetConnMaxLifetime(5 * time.Minute)
		dbs[id] = db
	}

	return NewShardPool(dbs, logger), nil
}

// NewShardPool wraps already opened databases keyed by shard id.
func NewShardPool(dbs map[int]*sql.DB, logger *slog.Logger) *ShardPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShardPool{
		dbs:    dbs,
		logger: logger.With(slog.String("component", "shard_pool")),
	}
}

// ShardIDs returns the configured shard ids in ascending order.
func (p *ShardPool) ShardIDs() []int {
	ids := make([]int, 0, len(p.dbs))
	for id := range p.dbs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// DB returns the database of a shard.
func (p *ShardPool) DB(shardID int) (*sql.DB, bool) {
	db, ok := p.dbs[shardID]
	return db, ok
}

// Conn implements store.ShardProvider by beginning a transaction on the
// shard's database.
func (p *ShardPool) Conn(ctx context.Context, mailboxID, shardID int) (store.ShardConn, error) {
	db, ok := p.dbs[shardID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrUnknownShard, shardID)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.NewStoreError("shard", "begin", "failed to begin transaction", MapError(err))
	}
	return &shardConn{db: tx, tx: tx, mailboxID: mailboxID, shardID: shardID}, nil
}

// Ping checks every shard database.
func (p *ShardPool) Ping(ctx context.Context) error {
	var errs []error
	for _, id := range p.ShardIDs() {
		if err := p.dbs[id].PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every shard database.
func (p *ShardPool) Close() error {
	var errs []error
	for _, id := range p.ShardIDs() {
		if err := p.dbs[id].Close(); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// shardConn is one transaction scoped to one mailbox.
type shardConn struct {
	db        store.DBTX
	tx        *sql.Tx
	mailboxID int
	shardID   int
	done      bool
}

// GetByID implements store.ShardConn. TypeUnknown matches any item type.
func (c *shardConn) GetByID(ctx context.Context, id int, itemType mailbox.ItemType, inDumpster bool) (*store.ItemRow, error) {
	table := itemTable
	if inDumpster {
		table = dumpsterTable
	}

	query := `
		SELECT id, type, subject, sender, recipients, body, date, attachments, index_id
		FROM ` + table + `
		WHERE mailbox_id = $1 AND id = $2 AND ($3 = 0 OR type = $3)
	`

	var (
		r           = store.ItemRow{MailboxID: c.mailboxID, InDumpster: inDumpster}
		recipients  []byte
		attachments []byte
		date        sql.NullTime
		indexID     sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx, query, c.mailboxID, id, int(itemType)).Scan(
		&r.ID,
		&r.Type,
		&r.Subject,
		&r.Sender,
		&recipients,
		&r.Body,
		&date,
		&attachments,
		&indexID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrItemNotFound
	}
	if err != nil {
		return nil, store.NewStoreError(table, "get", fmt.Sprintf("failed to load item %d", id), MapError(err))
	}

	if err := decodeJSON(recipients, &r.Recipients); err != nil {
		return nil, store.NewStoreError(table, "get", "invalid recipients", err)
	}
	if err := decodeJSON(attachments, &r.Attachments); err != nil {
		return nil, store.NewStoreError(table, "get", "invalid attachments", err)
	}
	if date.Valid {
		r.Date = date.Time
	}
	r.Indexed = indexID.Valid
	return &r, nil
}

// ListItems implements store.ShardConn.
func (c *shardConn) ListItems(ctx context.Context, types []mailbox.ItemType) ([]mailbox.ItemIdentifier, error) {
	if len(types) == 0 {
		types = mailbox.IndexableTypes()
	}
	codes := make([]int, 0, len(types))
	for _, t := range types {
		codes = append(codes, int(t))
	}

	query := `
		SELECT id, type FROM ` + itemTable + `
		WHERE mailbox_id = $1 AND type = ANY($2::int[])
		ORDER BY date DESC NULLS LAST, id DESC
	`
	return c.identifiers(ctx, "list", query, c.mailboxID, intArray(codes))
}

// NonIndexedItems implements store.ShardConn.
func (c *shardConn) NonIndexedItems(ctx context.Context) ([]mailbox.ItemIdentifier, error) {
	query := `
		SELECT id, type FROM ` + itemTable + `
		WHERE mailbox_id = $1 AND index_id IS NULL
		ORDER BY id
	`
	return c.identifiers(ctx, "non_indexed", query, c.mailboxID)
}

func (c *shardConn) identifiers(ctx context.Context, op, query string, args ...any) ([]mailbox.ItemIdentifier, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError(itemTable, op, "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var ids []mailbox.ItemIdentifier
	for rows.Next() {
		var id mailbox.ItemIdentifier
		if err := rows.Scan(&id.ID, &id.Type); err != nil {
			return nil, store.NewStoreError(itemTable, op, "scan failed", MapError(err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError(itemTable, op, "iteration failed", MapError(err))
	}
	return ids, nil
}

// SetIndexIDs implements store.ShardConn with one update per table, since
// an item may have moved to the dumpster after it was enqueued.
func (c *shardConn) SetIndexIDs(ctx context.Context, ids []int) error {
	if len(ids) == 0 {
		return nil
	}

	log := logger.FromContext(ctx)
	arg := intArray(ids)
	for _, table := range []string{itemTable, dumpsterTable} {
		query := `UPDATE ` + table + ` SET index_id = id WHERE mailbox_id = $1 AND id = ANY($2::int[])`
		res, err := c.db.ExecContext(ctx, query, c.mailboxID, arg)
		if err != nil {
			return store.NewStoreError(table, "set_index_ids", "update failed", MapError(err))
		}
		if n, err := res.RowsAffected(); err == nil {
			log.Debug("marked items indexed",
				slog.String("table", table),
				slog.Int64("rows", n))
		}
	}
	return nil
}

// Commit implements store.ShardConn.
func (c *shardConn) Commit() error {
	if err := c.tx.Commit(); err != nil {
		return MapError(err)
	}
	c.done = true
	return nil
}

// Close implements store.ShardConn.
func (c *shardConn) Close() error {
	if c.done {
		return nil
	}
	c.done = true
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return MapError(err)
	}
	return nil
}

// intArray renders ids as a PostgreSQL array literal.
func intArray(ids []int) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(id))
	}
	b.WriteByte('}')
	return b.String()
}

func decodeJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

var (
	_ store.ShardProvider = (*ShardPool)(nil)
	_ store.ShardConn     = (*shardConn)(nil)
)
