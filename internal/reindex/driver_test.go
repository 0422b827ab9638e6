package reindex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailindex/internal/mailbox"
	"github.com/phrazzld/mailindex/internal/metrics"
	"github.com/phrazzld/mailindex/internal/mocks"
	"github.com/phrazzld/mailindex/internal/platform/logger"
	"github.com/phrazzld/mailindex/internal/queue"
	"github.com/phrazzld/mailindex/internal/store"
	"github.com/phrazzld/mailindex/internal/task"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccount = "acct1"
	testMailbox = 100
	testShard   = 7
)

func newDriver(t *testing.T, capacity int, cfg Config, rows ...*store.ItemRow) (*Driver, *queue.LocalAdapter, *metrics.Metrics) {
	t.Helper()

	log, _ := logger.GetTestLogger(t)
	q := queue.NewLocalAdapter(capacity, log)
	m := metrics.New()
	d := NewDriver(q, mocks.NewMockShardProvider(rows...), cfg, m, log)
	t.Cleanup(d.Close)
	return d, q, m
}

func request(ids ...int) Request {
	return Request{AccountID: testAccount, MailboxID: testMailbox, ShardID: testShard, IDs: ids}
}

func itemRow(id int, itemType mailbox.ItemType) *store.ItemRow {
	return &store.ItemRow{ID: id, MailboxID: testMailbox, Type: itemType}
}

func waitIdle(t *testing.T, d *Driver) {
	t.Helper()
	require.Eventually(t, func() bool { return !d.Running(testAccount) },
		time.Second, 5*time.Millisecond, "job should stop feeding the queue")
}

func takeAll(t *testing.T, q *queue.LocalAdapter) []*task.AddByIdentifier {
	t.Helper()

	var out []*task.AddByIdentifier
	for q.Len() > 0 {
		tk, ok := q.Take(context.Background())
		require.True(t, ok)
		add, ok := tk.(*task.AddByIdentifier)
		require.True(t, ok, "reindex queues identifier tasks")
		out = append(out, add)
	}
	return out
}

func TestStart_ExplicitIDsInBatches(t *testing.T) {
	t.Parallel()

	d, q, m := newDriver(t, 100, Config{BatchSize: 2})

	req := request(1, 2, 3, 4, 5)
	req.IndexAttachments = true
	progress, err := d.Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(5), progress.Total)
	assert.Equal(t, queue.StatusIdle, progress.Status)

	waitIdle(t, d)

	tasks := takeAll(t, q)
	require.Len(t, tasks, 3)
	assert.Equal(t, []mailbox.ItemIdentifier{
		{ID: 1, Type: mailbox.TypeUnknown},
		{ID: 2, Type: mailbox.TypeUnknown},
	}, tasks[0].Identifiers())
	assert.Equal(t, 1, tasks[2].ItemCount())
	for _, tk := range tasks {
		assert.True(t, tk.IsReindex())
		assert.True(t, tk.IndexAttachments())
		assert.Equal(t, testAccount, tk.AccountID())
		assert.Equal(t, testShard, tk.ShardID())
	}

	assert.Equal(t, float64(5), testutil.ToFloat64(m.ReindexEnqueued.WithLabelValues(resultQueued)))
	assert.Equal(t, int64(0), q.Failed(testAccount))
}

func TestStart_ListsMailbox(t *testing.T) {
	t.Parallel()

	older := itemRow(1, mailbox.TypeMessage)
	older.Date = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := itemRow(3, mailbox.TypeMessage)
	newer.Date = older.Date.Add(24 * time.Hour)
	undated := itemRow(4, mailbox.TypeMessage)

	d, q, _ := newDriver(t, 100, Config{BatchSize: 10},
		older,
		itemRow(2, mailbox.TypeContact),
		newer,
		undated,
	)

	req := request()
	req.Types = []mailbox.ItemType{mailbox.TypeMessage}
	progress, err := d.Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(3), progress.Total)

	waitIdle(t, d)

	tasks := takeAll(t, q)
	require.Len(t, tasks, 1)
	assert.Equal(t, []mailbox.ItemIdentifier{
		{ID: 3, Type: mailbox.TypeMessage},
		{ID: 1, Type: mailbox.TypeMessage},
		{ID: 4, Type: mailbox.TypeMessage},
	}, tasks[0].Identifiers(), "newest items are reindexed first")
}

func TestStart_EmptyMailboxIsDone(t *testing.T) {
	t.Parallel()

	d, q, _ := newDriver(t, 100, Config{})

	progress, err := d.Start(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDone, progress.Status)
	assert.Zero(t, progress.Total)
	assert.Zero(t, q.Len())
	assert.False(t, d.Running(testAccount))
}

func TestStart_ResetsPreviousCounters(t *testing.T) {
	t.Parallel()

	d, q, _ := newDriver(t, 100, Config{})
	q.SetTotal(testAccount, 10)
	q.SetFailed(testAccount, 4)
	q.SetTaskStatus(testAccount, queue.StatusAborted)

	progress, err := d.Start(context.Background(), request(1))
	require.NoError(t, err)
	assert.Equal(t, queue.NewProgress(testAccount, 1, 0, 0, queue.StatusIdle), progress)
}

func TestStart_ListError(t *testing.T) {
	t.Parallel()

	log, _ := logger.GetTestLogger(t)
	q := queue.NewLocalAdapter(10, log)
	shards := mocks.NewMockShardProvider()
	listErr := errors.New("shard offline")
	shards.ConnHook = func(c *mocks.MockShardConn) {
		c.ListItemsFn = func(context.Context, []mailbox.ItemType) ([]mailbox.ItemIdentifier, error) {
			return nil, listErr
		}
	}
	d := NewDriver(q, shards, Config{}, nil, log)
	defer d.Close()

	_, err := d.Start(context.Background(), request())
	require.ErrorIs(t, err, listErr)
	assert.False(t, d.Running(testAccount), "a failed start releases the account")
	assert.Zero(t, q.Len())
}

func TestStart_InvalidRouting(t *testing.T) {
	t.Parallel()

	d, _, _ := newDriver(t, 10, Config{})

	_, err := d.Start(context.Background(), Request{MailboxID: testMailbox, IDs: []int{1}})
	assert.ErrorIs(t, err, task.ErrInvalidRouting)
}

func TestStart_FullQueueCountsFailed(t *testing.T) {
	t.Parallel()

	d, q, m := newDriver(t, 1, Config{
		BatchSize:            1,
		EnqueueTimeout:       30 * time.Millisecond,
		EnqueueRetryInterval: 5 * time.Millisecond,
	})

	_, err := d.Start(context.Background(), request(1, 2, 3))
	require.NoError(t, err)
	waitIdle(t, d)

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, int64(2), q.Failed(testAccount))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReindexEnqueued.WithLabelValues(resultQueued)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ReindexEnqueued.WithLabelValues(resultDropped)))

	// the queued batch completing converges the job
	q.IncrementSucceeded(testAccount, 1)
	assert.Equal(t, queue.StatusDone, d.Status(testAccount).Status)
}

func TestStart_WaitsForSpace(t *testing.T) {
	t.Parallel()

	d, q, _ := newDriver(t, 1, Config{
		BatchSize:            1,
		EnqueueTimeout:       time.Second,
		EnqueueRetryInterval: 5 * time.Millisecond,
	})

	_, err := d.Start(context.Background(), request(1, 2))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)
	_, ok := q.Take(context.Background())
	require.True(t, ok)

	waitIdle(t, d)
	assert.Equal(t, 1, q.Len(), "the second batch is queued once space frees up")
	assert.Zero(t, q.Failed(testAccount))
}

// blockedDriver returns a driver whose job is stuck offering its second batch.
func blockedDriver(t *testing.T) (*Driver, *queue.LocalAdapter) {
	t.Helper()

	d, q, _ := newDriver(t, 1, Config{
		BatchSize:            1,
		EnqueueTimeout:       time.Minute,
		EnqueueRetryInterval: time.Millisecond,
	})

	_, err := d.Start(context.Background(), request(1, 2, 3))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)
	require.True(t, d.Running(testAccount))
	return d, q
}

func TestStart_JobInProgress(t *testing.T) {
	t.Parallel()

	d, _ := blockedDriver(t)

	_, err := d.Start(context.Background(), request(9))
	assert.ErrorIs(t, err, ErrJobInProgress)
}

func TestAbort_StopsEnqueue(t *testing.T) {
	t.Parallel()

	d, q := blockedDriver(t)

	progress := d.Abort(testAccount)
	assert.Equal(t, queue.StatusAborted, progress.Status)

	waitIdle(t, d)
	status := d.Status(testAccount)
	assert.Equal(t, queue.StatusAborted, status.Status, "aborted is sticky")
	assert.Equal(t, int64(2), status.Failed, "unqueued items are counted as failed")
	assert.Equal(t, 1, q.Len())
}

func TestStart_AfterAbortStartsNewJob(t *testing.T) {
	t.Parallel()

	d, q, _ := newDriver(t, 10, Config{BatchSize: 10})

	_, err := d.Start(context.Background(), request(1, 2))
	require.NoError(t, err)
	waitIdle(t, d)
	first := q.JobID(testAccount)
	require.NotEqual(t, uuid.Nil, first)

	d.Abort(testAccount)
	_, err = d.Start(context.Background(), request(3))
	require.NoError(t, err)
	waitIdle(t, d)

	second := q.JobID(testAccount)
	assert.NotEqual(t, first, second)

	tasks := takeAll(t, q)
	require.Len(t, tasks, 2)
	assert.Equal(t, first, tasks[0].JobID(), "tasks of the aborted job keep their old tag")
	assert.Equal(t, second, tasks[1].JobID())
	assert.Equal(t, queue.StatusIdle, d.Status(testAccount).Status)
	assert.Equal(t, int64(1), d.Status(testAccount).Total)
}

func TestReset_ForgetsJob(t *testing.T) {
	t.Parallel()

	d, _ := blockedDriver(t)

	d.Reset(testAccount)

	assert.False(t, d.Running(testAccount))
	assert.Equal(t, queue.NewProgress(testAccount, 0, 0, 0, queue.StatusIdle), d.Status(testAccount))
}

func TestClose(t *testing.T) {
	t.Parallel()

	d, _ := blockedDriver(t)

	d.Close()
	assert.False(t, d.Running(testAccount))

	_, err := d.Start(context.Background(), request(1))
	assert.ErrorIs(t, err, ErrDriverClosed)
}

func TestNewDriver_Defaults(t *testing.T) {
	t.Parallel()

	d := NewDriver(queue.NewLocalAdapter(1, nil), mocks.NewMockShardProvider(), Config{}, nil, nil)
	defer d.Close()
	assert.Equal(t, DefaultConfig(), d.cfg, "zero values fall back to defaults")
}
