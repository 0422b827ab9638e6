package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/phrazzld/mailindex/internal/task"
	"github.com/puzpuzpuz/xsync/v3"
)

// LocalAdapter is an in-process Adapter backed by a bounded FIFO and a
// concurrent map of per-account counters.
//
// Two semaphores coordinate the FIFO: slots limits the number of queued
// tasks and ready wakes consumers. There is always at least one ready token
// per queued task; a consumer that wakes up to an empty queue (after a
// Drain) simply waits again.
type LocalAdapter struct {
	mu       sync.Mutex
	items    []task.Task
	slots    chan struct{}
	ready    chan struct{}
	capacity int

	progress *xsync.MapOf[string, *accountProgress]
	logger   *slog.Logger
}

// accountProgress holds one account's counters. Increments are plain atomic
// adds; status transitions use compare-and-swap so that an abort is never
// overwritten by the automatic transition to done.
type accountProgress struct {
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	status    atomic.Int32
	job       atomic.Pointer[uuid.UUID]
}

var (
	sharedOnce    sync.Once
	sharedAdapter *LocalAdapter
)

// Shared returns the process-wide LocalAdapter, creating it on first use.
// The capacity of the first call wins; later arguments are ignored.
func Shared(capacity int, logger *slog.Logger) *LocalAdapter {
	sharedOnce.Do(func() {
		sharedAdapter = NewLocalAdapter(capacity, logger)
	})
	return sharedAdapter
}

// NewLocalAdapter creates an independent adapter holding up to capacity
// tasks. A non-positive capacity falls back to DefaultCapacity.
func NewLocalAdapter(capacity int, logger *slog.Logger) *LocalAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		logger.Warn("invalid queue capacity specified, using default",
			"specified_capacity", capacity,
			"default_capacity", DefaultCapacity)
		capacity = DefaultCapacity
	}

	return &LocalAdapter{
		items:    make([]task.Task, 0, min(capacity, 1024)),
		slots:    make(chan struct{}, capacity),
		ready:    make(chan struct{}, capacity),
		capacity: capacity,
		progress: xsync.NewMapOf[string, *accountProgress](),
		logger:   logger.With("component", "local_queue"),
	}
}

// Put appends t, blocking while the queue is full.
func (q *LocalAdapter) Put(ctx context.Context, t task.Task) error {
	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	q.push(t)
	return nil
}

// Add appends t if there is space.
func (q *LocalAdapter) Add(t task.Task) bool {
	select {
	case q.slots <- struct{}{}:
		q.push(t)
		return true
	default:
		q.logger.Debug("queue full, task not added",
			"task", t,
			"queue_cap", q.capacity)
		return false
	}
}

func (q *LocalAdapter) push(t task.Task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	n := len(q.items)
	select {
	case q.ready <- struct{}{}:
	default:
		// ready is full, so there are already at least as many tokens as tasks
	}
	q.mu.Unlock()

	q.logger.Debug("task enqueued",
		"task", t,
		"queue_len", n,
		"queue_cap", q.capacity)
}

// Take removes and returns the head task, blocking until one is available.
func (q *LocalAdapter) Take(ctx context.Context) (task.Task, bool) {
	for {
		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, false
		}

		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			continue
		}
		t := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		<-q.slots
		return t, true
	}
}

// Peek returns the head task without removing it.
func (q *LocalAdapter) Peek() (task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// HasMoreItems reports whether any task is queued.
func (q *LocalAdapter) HasMoreItems() bool {
	return q.Len() > 0
}

// Len returns the number of queued tasks.
func (q *LocalAdapter) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the maximum number of queued tasks.
func (q *LocalAdapter) Capacity() int {
	return q.capacity
}

// Drain discards every queued task and resets all counters and status.
func (q *LocalAdapter) Drain() {
	q.mu.Lock()
	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	q.mu.Unlock()

	for i := 0; i < n; i++ {
		<-q.slots
	}
	q.ClearAllTaskCounts()

	q.logger.Info("queue drained", "discarded", n)
}

func (q *LocalAdapter) entry(accountID string) *accountProgress {
	p, _ := q.progress.LoadOrCompute(accountID, func() *accountProgress {
		return &accountProgress{}
	})
	return p
}

// IncrementSucceeded adds n to the account's succeeded counter.
func (q *LocalAdapter) IncrementSucceeded(accountID string, n int64) {
	p := q.entry(accountID)
	p.succeeded.Add(n)
	q.checkDone(accountID, p)
}

// IncrementFailed adds n to the account's failed counter.
func (q *LocalAdapter) IncrementFailed(accountID string, n int64) {
	p := q.entry(accountID)
	p.failed.Add(n)
	q.checkDone(accountID, p)
}

// checkDone moves a job from idle to done once every item is accounted for.
// Aborted and done jobs are left alone.
func (q *LocalAdapter) checkDone(accountID string, p *accountProgress) {
	if Status(p.status.Load()) != StatusIdle {
		return
	}
	if p.succeeded.Load()+p.failed.Load() < p.total.Load() {
		return
	}
	if p.status.CompareAndSwap(int32(StatusIdle), int32(StatusDone)) {
		q.logger.Info("reindex job complete",
			"account_id", accountID,
			"total", p.total.Load(),
			"succeeded", p.succeeded.Load(),
			"failed", p.failed.Load())
	}
}

// SetTotal sets the number of items the account's job expects.
func (q *LocalAdapter) SetTotal(accountID string, n int64) {
	q.entry(accountID).total.Store(n)
}

// SetSucceeded overwrites the account's succeeded counter.
func (q *LocalAdapter) SetSucceeded(accountID string, n int64) {
	q.entry(accountID).succeeded.Store(n)
}

// SetFailed overwrites the account's failed counter.
func (q *LocalAdapter) SetFailed(accountID string, n int64) {
	q.entry(accountID).failed.Store(n)
}

// Total returns the account's expected item count, 0 if unknown.
func (q *LocalAdapter) Total(accountID string) int64 {
	if p, ok := q.progress.Load(accountID); ok {
		return p.total.Load()
	}
	return 0
}

// Succeeded returns the account's succeeded counter, 0 if unknown.
func (q *LocalAdapter) Succeeded(accountID string) int64 {
	if p, ok := q.progress.Load(accountID); ok {
		return p.succeeded.Load()
	}
	return 0
}

// Failed returns the account's failed counter, 0 if unknown.
func (q *LocalAdapter) Failed(accountID string) int64 {
	if p, ok := q.progress.Load(accountID); ok {
		return p.failed.Load()
	}
	return 0
}

// DeleteMailboxTaskCounts forgets the account's counters and status.
func (q *LocalAdapter) DeleteMailboxTaskCounts(accountID string) {
	q.progress.Delete(accountID)
}

// ClearAllTaskCounts forgets every account's counters and status.
func (q *LocalAdapter) ClearAllTaskCounts() {
	q.progress.Clear()
}

// TaskStatus returns the account's job status.
func (q *LocalAdapter) TaskStatus(accountID string) Status {
	if p, ok := q.progress.Load(accountID); ok {
		return Status(p.status.Load())
	}
	return StatusIdle
}

// SetTaskStatus overwrites the account's job status.
func (q *LocalAdapter) SetTaskStatus(accountID string, status Status) {
	q.entry(accountID).status.Store(int32(status))
}

// JobID returns the account's current reindex job.
func (q *LocalAdapter) JobID(accountID string) uuid.UUID {
	if p, ok := q.progress.Load(accountID); ok {
		if id := p.job.Load(); id != nil {
			return *id
		}
	}
	return uuid.Nil
}

// SetJobID records the account's current reindex job.
func (q *LocalAdapter) SetJobID(accountID string, jobID uuid.UUID) {
	q.entry(accountID).job.Store(&jobID)
}

// Progress returns a snapshot of the account's counters.
func (q *LocalAdapter) Progress(accountID string) Progress {
	p, ok := q.progress.Load(accountID)
	if !ok {
		return NewProgress(accountID, 0, 0, 0, StatusIdle)
	}
	return NewProgress(accountID,
		p.total.Load(),
		p.succeeded.Load(),
		p.failed.Load(),
		Status(p.status.Load()))
}

var _ Adapter = (*LocalAdapter)(nil)
