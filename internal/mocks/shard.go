package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/phrazzld/mailindex/internal/mailbox"
	"github.com/phrazzld/mailindex/internal/store"
)

// RowKey addresses a row in a MockShardProvider by id and table.
type RowKey struct {
	ID         int
	InDumpster bool
}

// GetByIDCall records the arguments of one GetByID call.
type GetByIDCall struct {
	ID         int
	Type       mailbox.ItemType
	InDumpster bool
}

// MockShardProvider implements store.ShardProvider over an in-memory set of
// item rows shared by every connection it opens.
type MockShardProvider struct {
	// ConnFn overrides Conn when set
	ConnFn func(ctx context.Context, mailboxID, shardID int) (store.ShardConn, error)

	// ConnHook is applied to every connection before it is returned, so
	// tests can install per-connection overrides
	ConnHook func(conn *MockShardConn)

	mu    sync.Mutex
	rows  map[RowKey]*store.ItemRow
	conns []*MockShardConn
}

// NewMockShardProvider creates a provider holding the given rows.
func NewMockShardProvider(rows ...*store.ItemRow) *MockShardProvider {
	p := &MockShardProvider{rows: make(map[RowKey]*store.ItemRow)}
	for _, r := range rows {
		p.rows[RowKey{ID: r.ID, InDumpster: r.InDumpster}] = r
	}
	return p
}

// Conn implements store.ShardProvider.
func (p *MockShardProvider) Conn(ctx context.Context, mailboxID, shardID int) (store.ShardConn, error) {
	if p.ConnFn != nil {
		return p.ConnFn(ctx, mailboxID, shardID)
	}

	c := &MockShardConn{provider: p, MailboxID: mailboxID, ShardID: shardID}
	if p.ConnHook != nil {
		p.ConnHook(c)
	}

	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
	return c, nil
}

// Conns returns every connection opened so far.
func (p *MockShardProvider) Conns() []*MockShardConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*MockShardConn(nil), p.conns...)
}

// IsIndexed reports whether the row was marked indexed by a committed connection.
func (p *MockShardProvider) IsIndexed(id int, inDumpster bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rows[RowKey{ID: id, InDumpster: inDumpster}]
	return ok && r.Indexed
}

func (p *MockShardProvider) lookup(id int, itemType mailbox.ItemType, inDumpster bool) (*store.ItemRow, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rows[RowKey{ID: id, InDumpster: inDumpster}]
	if !ok {
		return nil, false
	}
	if itemType != mailbox.TypeUnknown && r.Type != itemType {
		return nil, false
	}
	cp := *r
	return &cp, true
}

func (p *MockShardProvider) snapshot() []*store.ItemRow {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*store.ItemRow, 0, len(p.rows))
	for _, r := range p.rows {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *MockShardProvider) markIndexed(ids []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		for _, dumpster := range []bool{false, true} {
			if r, ok := p.rows[RowKey{ID: id, InDumpster: dumpster}]; ok {
				r.Indexed = true
			}
		}
	}
}

// MockShardConn implements store.ShardConn. Index marks are applied to the
// provider only on Commit.
type MockShardConn struct {
	MailboxID int
	ShardID   int

	// Custom behavior functions
	GetByIDFn         func(ctx context.Context, id int, itemType mailbox.ItemType, inDumpster bool) (*store.ItemRow, error)
	ListItemsFn       func(ctx context.Context, types []mailbox.ItemType) ([]mailbox.ItemIdentifier, error)
	NonIndexedItemsFn func(ctx context.Context) ([]mailbox.ItemIdentifier, error)
	SetIndexIDsFn     func(ctx context.Context, ids []int) error
	CommitFn          func() error

	provider *MockShardProvider

	mu           sync.Mutex
	getByIDCalls []GetByIDCall
	pending      []int
	indexIDCalls int
	committed    bool
	closed       bool
}

// GetByID implements store.ShardConn.
func (c *MockShardConn) GetByID(ctx context.Context, id int, itemType mailbox.ItemType, inDumpster bool) (*store.ItemRow, error) {
	c.mu.Lock()
	c.getByIDCalls = append(c.getByIDCalls, GetByIDCall{ID: id, Type: itemType, InDumpster: inDumpster})
	c.mu.Unlock()

	if c.GetByIDFn != nil {
		return c.GetByIDFn(ctx, id, itemType, inDumpster)
	}
	if r, ok := c.provider.lookup(id, itemType, inDumpster); ok {
		return r, nil
	}
	return nil, store.ErrItemNotFound
}

// ListItems implements store.ShardConn.
func (c *MockShardConn) ListItems(ctx context.Context, types []mailbox.ItemType) ([]mailbox.ItemIdentifier, error) {
	if c.ListItemsFn != nil {
		return c.ListItemsFn(ctx, types)
	}

	wanted := make(map[mailbox.ItemType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	var rows []*store.ItemRow
	for _, r := range c.provider.snapshot() {
		if r.InDumpster || r.MailboxID != c.MailboxID {
			continue
		}
		if len(wanted) > 0 && !wanted[r.Type] {
			continue
		}
		rows = append(rows, r)
	}

	// newest first, undated rows last
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Date.Equal(b.Date) {
			return a.ID > b.ID
		}
		if a.Date.IsZero() || b.Date.IsZero() {
			return b.Date.IsZero()
		}
		return a.Date.After(b.Date)
	})

	ids := make([]mailbox.ItemIdentifier, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, mailbox.ItemIdentifier{ID: r.ID, Type: r.Type})
	}
	return ids, nil
}

// NonIndexedItems implements store.ShardConn.
func (c *MockShardConn) NonIndexedItems(ctx context.Context) ([]mailbox.ItemIdentifier, error) {
	if c.NonIndexedItemsFn != nil {
		return c.NonIndexedItemsFn(ctx)
	}

	var ids []mailbox.ItemIdentifier
	for _, r := range c.provider.snapshot() {
		if r.InDumpster || r.Indexed || r.MailboxID != c.MailboxID {
			continue
		}
		ids = append(ids, mailbox.ItemIdentifier{ID: r.ID, Type: r.Type})
	}
	return ids, nil
}

// SetIndexIDs implements store.ShardConn.
func (c *MockShardConn) SetIndexIDs(ctx context.Context, ids []int) error {
	c.mu.Lock()
	c.indexIDCalls++
	c.mu.Unlock()

	if c.SetIndexIDsFn != nil {
		if err := c.SetIndexIDsFn(ctx, ids); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.pending = append(c.pending, ids...)
	c.mu.Unlock()
	return nil
}

// Commit implements store.ShardConn.
func (c *MockShardConn) Commit() error {
	if c.CommitFn != nil {
		if err := c.CommitFn(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return store.ErrConnClosed
	}
	pending := c.pending
	c.pending = nil
	c.committed = true
	c.mu.Unlock()

	c.provider.markIndexed(pending)
	return nil
}

// Close implements store.ShardConn.
func (c *MockShardConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.pending = nil
	return nil
}

// GetByIDCalls returns the recorded GetByID calls.
func (c *MockShardConn) GetByIDCalls() []GetByIDCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]GetByIDCall(nil), c.getByIDCalls...)
}

// SetIndexIDsCalls returns how many times SetIndexIDs was called.
func (c *MockShardConn) SetIndexIDsCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexIDCalls
}

// Committed reports whether Commit succeeded.
func (c *MockShardConn) Committed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed
}

// Closed reports whether Close was called.
func (c *MockShardConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var (
	_ store.ShardProvider = (*MockShardProvider)(nil)
	_ store.ShardConn     = (*MockShardConn)(nil)
)
