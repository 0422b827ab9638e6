package indexing

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/phrazzld/mailindex/internal/metrics"
	"github.com/phrazzld/mailindex/internal/queue"
	"github.com/phrazzld/mailindex/internal/store"
	"github.com/phrazzld/mailindex/internal/task"
)

// Mailbox check results
const (
	checkClean    = "clean"
	checkRepaired = "repaired"
	checkFailed   = "failed"
)

type mailboxKey struct {
	accountID string
	mailboxID int
}

// mailboxChecker enqueues items a mailbox holds but never indexed, once per
// mailbox per process. It is only used from the dispatcher goroutine.
type mailboxChecker struct {
	verified *lru.Cache[mailboxKey, struct{}]
	queue    queue.Adapter
	shards   store.ShardProvider
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func newMailboxChecker(size int, q queue.Adapter, shards store.ShardProvider, m *metrics.Metrics, logger *slog.Logger) (*mailboxChecker, error) {
	if size <= 0 {
		size = DefaultConfig().VerifiedCacheSize
	}
	cache, err := lru.New[mailboxKey, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &mailboxChecker{
		verified: cache,
		queue:    q,
		shards:   shards,
		metrics:  m,
		logger:   logger,
	}, nil
}

// check verifies t's mailbox if it has not been verified yet. Failures are
// logged and the mailbox is checked again the next time it is seen.
func (c *mailboxChecker) check(ctx context.Context, t task.Task) {
	key := mailboxKey{accountID: t.AccountID(), mailboxID: t.MailboxID()}
	if c.verified.Contains(key) {
		return
	}

	log := c.logger.With(
		slog.String("account_id", key.accountID),
		slog.Int("mailbox_id", key.mailboxID))

	repaired, err := c.repair(ctx, t.Routing())
	if err != nil {
		c.metrics.MailboxChecks.WithLabelValues(checkFailed).Inc()
		log.Warn("mailbox consistency check failed", slog.String("error", err.Error()))
		return
	}

	c.verified.Add(key, struct{}{})
	if repaired == 0 {
		c.metrics.MailboxChecks.WithLabelValues(checkClean).Inc()
		return
	}
	c.metrics.MailboxChecks.WithLabelValues(checkRepaired).Inc()
	log.Info("enqueued non-indexed items found by consistency check", slog.Int("items", repaired))
}

func (c *mailboxChecker) repair(ctx context.Context, r task.Routing) (int, error) {
	conn, err := c.shards.Conn(ctx, r.MailboxID, r.ShardID)
	if err != nil {
		return 0, fmt.Errorf("failed to open shard connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ids, err := conn.NonIndexedItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list non-indexed items: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	t, err := task.NewAddByIdentifier(r, ids)
	if err != nil {
		return 0, err
	}
	if !c.queue.Add(t) {
		return 0, queue.ErrQueueFull
	}
	return len(ids), nil
}
