package indexing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phrazzld/mailindex/internal/mailbox"
	"github.com/phrazzld/mailindex/internal/metrics"
	"github.com/phrazzld/mailindex/internal/mocks"
	"github.com/phrazzld/mailindex/internal/platform/logger"
	"github.com/phrazzld/mailindex/internal/queue"
	"github.com/phrazzld/mailindex/internal/task"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxChecker_EnqueuesNonIndexedItemsOnce(t *testing.T) {
	t.Parallel()

	log, _ := logger.GetTestLogger(t)
	indexed := row(3, false)
	indexed.Indexed = true
	shards := mocks.NewMockShardProvider(row(1, false), row(2, false), indexed)
	q := queue.NewLocalAdapter(10, log)
	m := metrics.New()

	c, err := newMailboxChecker(10, q, shards, m, log)
	require.NoError(t, err)

	trigger := newTestTask(t, 9)
	c.check(context.Background(), trigger)
	c.check(context.Background(), trigger)

	require.Equal(t, 1, q.Len())
	queued, ok := q.Peek()
	require.True(t, ok)
	repair, ok := queued.(*task.AddByIdentifier)
	require.True(t, ok)
	assert.False(t, repair.IsReindex())
	assert.Equal(t, testRouting, repair.Routing())
	assert.Equal(t, []mailbox.ItemIdentifier{
		{ID: 1, Type: mailbox.TypeMessage},
		{ID: 2, Type: mailbox.TypeMessage},
	}, repair.Identifiers())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.MailboxChecks.WithLabelValues(checkRepaired)))
	assert.Len(t, shards.Conns(), 1, "verified mailbox is not checked again")
	assert.True(t, shards.Conns()[0].Closed())
}

func TestMailboxChecker_CleanMailbox(t *testing.T) {
	t.Parallel()

	log, _ := logger.GetTestLogger(t)
	q := queue.NewLocalAdapter(10, log)
	m := metrics.New()
	c, err := newMailboxChecker(10, q, mocks.NewMockShardProvider(), m, log)
	require.NoError(t, err)

	c.check(context.Background(), newTestTask(t, 1))

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MailboxChecks.WithLabelValues(checkClean)))
}

func TestMailboxChecker_FailureIsRetriedLater(t *testing.T) {
	t.Parallel()

	log, _ := logger.GetTestLogger(t)
	shards := mocks.NewMockShardProvider(row(1, false))
	failures := 1
	shards.ConnHook = func(c *mocks.MockShardConn) {
		if failures > 0 {
			failures--
			c.NonIndexedItemsFn = func(context.Context) ([]mailbox.ItemIdentifier, error) {
				return nil, errors.New("shard offline")
			}
		}
	}
	q := queue.NewLocalAdapter(10, log)
	m := metrics.New()
	c, err := newMailboxChecker(10, q, shards, m, log)
	require.NoError(t, err)

	trigger := newTestTask(t, 9)
	c.check(context.Background(), trigger)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MailboxChecks.WithLabelValues(checkFailed)))

	c.check(context.Background(), trigger)
	assert.Equal(t, 1, q.Len())
	assert.Len(t, shards.Conns(), 2)
}

func TestService_VerifiesMailboxesOnDispatch(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.VerifyMailboxes = true
	f := newFixture(t, cfg, row(1, false), row(2, false))

	require.NoError(t, f.svc.Start())
	defer f.svc.Stop()

	require.True(t, f.queue.Add(newTestTask(t, 50)))

	assert.Eventually(t, func() bool {
		return f.shards.IsIndexed(1, false) && f.shards.IsIndexed(2, false)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.index.Account("acct1").DeleteCalls())
	assert.ElementsMatch(t, []int{1, 2}, f.index.Account("acct1").ItemIDs())
}
