// Package reindex drives bulk reindex jobs: it resolves the items of a
// mailbox, records the job total and feeds the queue with batches of
// identifier tasks whose outcomes converge the account's progress counters.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailindex/internal/config"
	"github.com/phrazzld/mailindex/internal/mailbox"
	"github.com/phrazzld/mailindex/internal/metrics"
	"github.com/phrazzld/mailindex/internal/queue"
	"github.com/phrazzld/mailindex/internal/store"
	"github.com/phrazzld/mailindex/internal/task"
	"github.com/puzpuzpuz/xsync/v3"
)

// Enqueue results recorded in metrics.ReindexEnqueued.
const (
	resultQueued  = "queued"
	resultDropped = "dropped"
)

// Errors returned by the driver.
var (
	// ErrJobInProgress is returned when an account already has a job feeding the queue.
	ErrJobInProgress = errors.New("reindex job already in progress")

	// ErrDriverClosed is returned by Start after Close.
	ErrDriverClosed = errors.New("reindex driver is closed")
)

// Config tunes how jobs are fed to the queue.
type Config struct {
	// BatchSize is the number of identifiers per task
	BatchSize int

	// EnqueueTimeout bounds how long one batch is offered to a full queue
	// before it is counted as failed
	EnqueueTimeout time.Duration

	// EnqueueRetryInterval is the pause between offers to a full queue
	EnqueueRetryInterval time.Duration
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		BatchSize:            100,
		EnqueueTimeout:       10 * time.Second,
		EnqueueRetryInterval: 500 * time.Millisecond,
	}
}

// ConfigFromApp maps application configuration onto the driver Config.
func ConfigFromApp(cfg config.ReindexConfig) Config {
	return Config{
		BatchSize:            cfg.BatchSize,
		EnqueueTimeout:       cfg.EnqueueTimeout(),
		EnqueueRetryInterval: cfg.EnqueueRetryInterval(),
	}
}

// Request describes one reindex job.
type Request struct {
	AccountID string
	MailboxID int
	ShardID   int

	// Types restricts the job to item types when IDs is empty. Empty
	// means every indexable type.
	Types []mailbox.ItemType

	// IDs lists explicit items to reindex
	IDs []int

	IndexAttachments bool
}

func (r Request) routing() task.Routing {
	return task.Routing{AccountID: r.AccountID, MailboxID: r.MailboxID, ShardID: r.ShardID}
}

// job tracks the enqueue goroutine of one account.
type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Driver starts and controls reindex jobs.
type Driver struct {
	queue   queue.Adapter
	shards  store.ShardProvider
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active *xsync.MapOf[string, *job]
}

// NewDriver creates a Driver. A nil metrics set is replaced by an unregistered one.
func NewDriver(q queue.Adapter, shards store.ShardProvider, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Driver {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = def.EnqueueTimeout
	}
	if cfg.EnqueueRetryInterval <= 0 {
		cfg.EnqueueRetryInterval = def.EnqueueRetryInterval
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		queue:   q,
		shards:  shards,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "reindex_driver"),
		ctx:     ctx,
		cancel:  cancel,
		active:  xsync.NewMapOf[string, *job](),
	}
}

// Start resets the account's counters, resolves the items to reindex and
// records the job total. Batches are fed to the queue in the background;
// the returned snapshot is taken before the first batch is queued.
func (d *Driver) Start(ctx context.Context, req Request) (queue.Progress, error) {
	r := req.routing()
	if err := r.Validate(); err != nil {
		return queue.Progress{}, err
	}
	if d.ctx.Err() != nil {
		return queue.Progress{}, ErrDriverClosed
	}

	jobCtx, cancel := context.WithCancel(d.ctx)
	j := &job{cancel: cancel, done: make(chan struct{})}
	if _, loaded := d.active.LoadOrStore(req.AccountID, j); loaded {
		cancel()
		return queue.Progress{}, fmt.Errorf("%w for account %s", ErrJobInProgress, req.AccountID)
	}
	release := func() {
		d.active.Delete(req.AccountID)
		cancel()
		close(j.done)
	}

	log := d.logger.With(
		slog.String("account_id", req.AccountID),
		slog.Int("mailbox_id", req.MailboxID),
		slog.Int("shard_id", req.ShardID))

	d.queue.DeleteMailboxTaskCounts(req.AccountID)
	jobID := uuid.New()
	d.queue.SetJobID(req.AccountID, jobID)
	log = log.With(slog.String("job_id", jobID.String()))

	ids, err := d.resolve(ctx, req)
	if err != nil {
		release()
		log.Error("failed to resolve reindex items", slog.String("error", err.Error()))
		return queue.Progress{}, err
	}

	if len(ids) == 0 {
		d.queue.SetTaskStatus(req.AccountID, queue.StatusDone)
		release()
		log.Info("nothing to reindex")
		return d.queue.Progress(req.AccountID), nil
	}

	d.queue.SetTotal(req.AccountID, int64(len(ids)))
	progress := d.queue.Progress(req.AccountID)

	log.Info("reindex job started",
		slog.Int("items", len(ids)),
		slog.Int("batch_size", d.cfg.BatchSize))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer release()
		d.enqueue(jobCtx, req, jobID, ids, log)
	}()

	return progress, nil
}

// resolve returns the explicit identifiers of req, or lists the mailbox.
func (d *Driver) resolve(ctx context.Context, req Request) ([]mailbox.ItemIdentifier, error) {
	if len(req.IDs) > 0 {
		ids := make([]mailbox.ItemIdentifier, 0, len(req.IDs))
		for _, id := range req.IDs {
			ids = append(ids, mailbox.ItemIdentifier{ID: id, Type: mailbox.TypeUnknown})
		}
		return ids, nil
	}

	var ids []mailbox.ItemIdentifier
	err := store.RunInShard(ctx, d.shards, req.MailboxID, req.ShardID, func(ctx context.Context, conn store.ShardConn) error {
		var err error
		ids, err = conn.ListItems(ctx, req.Types)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list mailbox items: %w", err)
	}
	return ids, nil
}

// enqueue feeds ids to the queue in batches. Items whose batch could not be
// queued are counted as failed so the job converges.
func (d *Driver) enqueue(ctx context.Context, req Request, jobID uuid.UUID, ids []mailbox.ItemIdentifier, log *slog.Logger) {
	opts := []task.Option{task.AsReindex(), task.InJob(jobID), task.WithAttachments(req.IndexAttachments)}
	queued, dropped := 0, 0

	for start := 0; start < len(ids); start += d.cfg.BatchSize {
		end := min(start+d.cfg.BatchSize, len(ids))
		batch := ids[start:end]

		if ctx.Err() != nil {
			dropped += len(ids) - start
			d.drop(req.AccountID, len(ids)-start)
			break
		}

		t, err := task.NewAddByIdentifier(req.routing(), batch, opts...)
		if err == nil && d.offer(ctx, t) {
			queued += len(batch)
			d.metrics.ReindexEnqueued.WithLabelValues(resultQueued).Add(float64(len(batch)))
			continue
		}

		dropped += len(batch)
		d.drop(req.AccountID, len(batch))
		log.Warn("reindex batch not queued",
			slog.Int("items", len(batch)),
			slog.Bool("cancelled", ctx.Err() != nil))
	}

	log.Info("reindex job queued",
		slog.Int("queued_items", queued),
		slog.Int("dropped_items", dropped))
}

func (d *Driver) drop(accountID string, n int) {
	d.metrics.ReindexEnqueued.WithLabelValues(resultDropped).Add(float64(n))
	d.queue.IncrementFailed(accountID, int64(n))
}

// offer adds t, waiting for space for at most EnqueueTimeout.
func (d *Driver) offer(ctx context.Context, t task.Task) bool {
	if d.queue.Add(t) {
		return true
	}

	deadline := time.NewTimer(d.cfg.EnqueueTimeout)
	defer deadline.Stop()
	retry := time.NewTicker(d.cfg.EnqueueRetryInterval)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return d.queue.Add(t)
		case <-retry.C:
			if d.queue.Add(t) {
				return true
			}
		}
	}
}

// Status returns the progress of an account's job.
func (d *Driver) Status(accountID string) queue.Progress {
	return d.queue.Progress(accountID)
}

// Running reports whether an account's job is still feeding the queue.
func (d *Driver) Running(accountID string) bool {
	_, ok := d.active.Load(accountID)
	return ok
}

// Abort marks the account's job aborted and stops feeding the queue. Tasks
// already queued are skipped by the workers and counted as failed.
func (d *Driver) Abort(accountID string) queue.Progress {
	d.queue.SetTaskStatus(accountID, queue.StatusAborted)
	if j, ok := d.active.Load(accountID); ok {
		j.cancel()
	}
	d.logger.Info("reindex job aborted", slog.String("account_id", accountID))
	return d.queue.Progress(accountID)
}

// Reset stops feeding the queue and forgets the account's counters and status.
func (d *Driver) Reset(accountID string) {
	if j, ok := d.active.Load(accountID); ok {
		j.cancel()
		<-j.done
	}
	d.queue.DeleteMailboxTaskCounts(accountID)
	d.logger.Info("reindex job reset", slog.String("account_id", accountID))
}

// Close stops every job feeding the queue and waits for them to exit.
func (d *Driver) Close() {
	d.cancel()
	d.wg.Wait()
}
