package indexing

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/phrazzld/mailindex/internal/metrics"
	"github.com/phrazzld/mailindex/internal/task"
)

// ErrPoolStopped is returned when work is submitted after the pool was shut down.
var ErrPoolStopped = errors.New("worker pool is stopped")

// job is one task bound to the function that executes it. onCaller is true
// when the job runs on the submitting goroutine instead of a worker.
type job struct {
	task task.Task
	run  func(ctx context.Context, onCaller bool)
}

// workerPool runs jobs on a fixed number of goroutines fed by a bounded
// backlog. When the backlog is full the submitter runs the job itself.
type workerPool struct {
	// ctx is cancelled on shutdown to interrupt in-flight jobs
	ctx    context.Context
	cancel context.CancelFunc

	// jobs is the backlog shared by all workers
	jobs chan job

	// workerCount is the number of concurrent workers to start
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newWorkerPool(workerCount, backlog int, logger *slog.Logger, m *metrics.Metrics) *workerPool {
	if workerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", workerCount,
			"default_count", 1)
		workerCount = 1
	}
	if backlog <= 0 {
		backlog = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &workerPool{
		ctx:         ctx,
		cancel:      cancel,
		jobs:        make(chan job, backlog),
		workerCount: workerCount,
		logger:      logger,
		metrics:     m,
	}
}

// start launches the worker goroutines.
func (p *workerPool) start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		"worker_count", p.workerCount,
		"backlog_capacity", cap(p.jobs))
}

// worker processes jobs from the backlog until the pool context ends.
func (p *workerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("stopping worker", "worker_id", id)
			return
		case j := <-p.jobs:
			p.metrics.PoolBacklog.Set(float64(len(p.jobs)))
			if p.ctx.Err() != nil {
				// Stopping: hand the job back so shutdown can return its task
				p.restore(j)
				return
			}
			j.run(p.ctx, false)
		}
	}
}

// restore puts a job taken during shutdown back into the backlog. The
// backlog cannot be full: the context is only cancelled after submit stops
// accepting work, and the job was just removed from it.
func (p *workerPool) restore(j job) {
	select {
	case p.jobs <- j:
	default:
		p.logger.Error("failed to restore job during shutdown", "task", j.task)
	}
}

// submit queues j, or runs it on the calling goroutine when the backlog is full.
func (p *workerPool) submit(j job) error {
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrPoolStopped
	}
	select {
	case p.jobs <- j:
		p.mu.RUnlock()
		p.metrics.PoolBacklog.Set(float64(len(p.jobs)))
		return nil
	default:
	}
	p.mu.RUnlock()

	p.metrics.CallerRuns.Inc()
	p.logger.Debug("worker backlog full, running task on caller",
		"task", j.task,
		"backlog_capacity", cap(p.jobs))
	j.run(p.ctx, true)
	return nil
}

// shutdownNow rejects further submissions, interrupts in-flight jobs, waits
// for workers to exit and returns the tasks of jobs that never started.
func (p *workerPool) shutdownNow() []task.Task {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	var pending []task.Task
	for {
		select {
		case j := <-p.jobs:
			pending = append(pending, j.task)
		default:
			p.metrics.PoolBacklog.Set(0)
			p.logger.Info("worker pool stopped", "purged_jobs", len(pending))
			return pending
		}
	}
}
