package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/mailindex/internal/config"
	"github.com/phrazzld/mailindex/internal/index"
	"github.com/phrazzld/mailindex/internal/mailbox"
	"github.com/phrazzld/mailindex/internal/metrics"
	"github.com/phrazzld/mailindex/internal/queue"
	"github.com/phrazzld/mailindex/internal/store"
	"github.com/phrazzld/mailindex/internal/task"
)

// ErrMissingDependency is returned by NewService when a required collaborator is nil.
var ErrMissingDependency = errors.New("missing indexing service dependency")

// Config holds the tunables of the indexing service.
type Config struct {
	// Topology decides the worker count: one worker for a single-node
	// backend, Threads workers otherwise
	Topology index.Topology
	Threads  int

	// BacklogSize bounds the work waiting for a free worker
	BacklogSize int

	// PollInterval bounds how long the dispatcher blocks on the queue
	PollInterval time.Duration

	// StartupWait is the pause between readiness checks before the
	// application has started
	StartupWait time.Duration

	// MaxRetries is the number of requeues a failing task gets
	MaxRetries int

	// VerifyMailboxes enables the first-seen mailbox consistency check
	VerifyMailboxes   bool
	VerifiedCacheSize int
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		Topology:          index.TopologySingleNode,
		Threads:           10,
		BacklogSize:       10000,
		PollInterval:      500 * time.Millisecond,
		StartupWait:       100 * time.Millisecond,
		MaxRetries:        2,
		VerifiedCacheSize: 100000,
	}
}

// ConfigFromApp maps application configuration onto the service Config.
func ConfigFromApp(cfg *config.Config) (Config, error) {
	topology, err := index.ParseTopology(cfg.Index.Topology)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Topology:          topology,
		Threads:           cfg.Index.Threads,
		BacklogSize:       cfg.Indexing.BacklogSize,
		PollInterval:      cfg.Queue.PollInterval(),
		StartupWait:       cfg.Indexing.StartupWait(),
		MaxRetries:        cfg.Indexing.MaxRetries,
		VerifyMailboxes:   cfg.Indexing.VerifyMailboxes,
		VerifiedCacheSize: cfg.Indexing.VerifiedCacheSize,
	}, nil
}

// Materializer turns a stored row into a live item.
type Materializer func(accountID string, row *store.ItemRow) (mailbox.Item, error)

// MessageMaterializer materializes every row as a *mailbox.Message.
func MessageMaterializer(_ string, row *store.ItemRow) (mailbox.Item, error) {
	return row.Message(), nil
}

// Deps are the collaborators of the indexing service.
type Deps struct {
	Queue  queue.Adapter
	Index  index.Store
	Shards store.ShardProvider

	// Materialize defaults to MessageMaterializer
	Materialize Materializer

	// Ready reports whether the application has finished starting. Nil
	// means always ready.
	Ready func() bool

	// Metrics defaults to a fresh, unregistered set
	Metrics *metrics.Metrics
}

// Service drains the queue adapter into a worker pool. A Service can be
// started and stopped repeatedly; Start and Stop are idempotent.
type Service struct {
	cfg         Config
	queue       queue.Adapter
	index       index.Store
	shards      store.ShardProvider
	materialize Materializer
	ready       func() bool
	metrics     *metrics.Metrics
	checker     *mailboxChecker
	logger      *slog.Logger

	mu           sync.Mutex
	running      atomic.Bool
	cancel       context.CancelFunc
	pool         *workerPool
	dispatchDone chan struct{}
	requeues     sync.WaitGroup
}

// NewService creates a stopped Service.
func NewService(cfg Config, deps Deps, logger *slog.Logger) (*Service, error) {
	switch {
	case deps.Queue == nil:
		return nil, fmt.Errorf("%w: queue adapter", ErrMissingDependency)
	case deps.Index == nil:
		return nil, fmt.Errorf("%w: index store", ErrMissingDependency)
	case deps.Shards == nil:
		return nil, fmt.Errorf("%w: shard provider", ErrMissingDependency)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Materialize == nil {
		deps.Materialize = MessageMaterializer
	}
	if deps.Ready == nil {
		deps.Ready = func() bool { return true }
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.StartupWait <= 0 {
		cfg.StartupWait = DefaultConfig().StartupWait
	}

	s := &Service{
		cfg:         cfg,
		queue:       deps.Queue,
		index:       deps.Index,
		shards:      deps.Shards,
		materialize: deps.Materialize,
		ready:       deps.Ready,
		metrics:     deps.Metrics,
		logger:      logger.With("component", "indexing_service"),
	}

	if cfg.VerifyMailboxes {
		checker, err := newMailboxChecker(cfg.VerifiedCacheSize, deps.Queue, deps.Shards, deps.Metrics, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create mailbox checker: %w", err)
		}
		s.checker = checker
	}

	return s, nil
}

// WorkerCount returns the number of workers Start launches.
func (s *Service) WorkerCount() int {
	if s.cfg.Topology == index.TopologySingleNode {
		return 1
	}
	if s.cfg.Threads <= 0 {
		return DefaultConfig().Threads
	}
	return s.cfg.Threads
}

// Running reports whether the service is started.
func (s *Service) Running() bool {
	return s.running.Load()
}

// Start launches the worker pool and the dispatch goroutine.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pool = newWorkerPool(s.WorkerCount(), s.cfg.BacklogSize, s.logger, s.metrics)
	s.pool.start()
	s.dispatchDone = make(chan struct{})
	s.running.Store(true)

	go s.dispatch(ctx, s.pool, s.dispatchDone)

	s.logger.Info("indexing service started",
		"topology", s.cfg.Topology,
		"worker_count", s.WorkerCount(),
		"max_retries", s.cfg.MaxRetries)
	return nil
}

// Stop interrupts in-flight work, purges work that has not started and
// waits for the dispatcher to exit. Purged tasks are offered back to the
// queue.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return
	}
	s.running.Store(false)

	pending := s.pool.shutdownNow()
	s.cancel()
	<-s.dispatchDone
	s.requeues.Wait()

	returned := 0
	for _, t := range pending {
		if s.queue.Add(t) {
			returned++
		} else {
			s.logger.Error("failed to return purged task to the queue", "task", t)
		}
	}

	s.logger.Info("indexing service stopped",
		"purged_tasks", len(pending),
		"returned_to_queue", returned)
}

// dispatch moves tasks from the queue to the pool until the service stops.
func (s *Service) dispatch(ctx context.Context, pool *workerPool, done chan<- struct{}) {
	defer close(done)

	s.logger.Debug("dispatcher started")
	defer s.logger.Debug("dispatcher stopped")

	for s.running.Load() {
		if !s.ready() {
			if !sleep(ctx, s.cfg.StartupWait) {
				return
			}
			continue
		}

		pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollInterval)
		t, ok := s.queue.Take(pollCtx)
		cancel()
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		if s.checker != nil {
			s.checker.check(ctx, t)
		}

		j, ok := s.jobFor(t)
		if !ok {
			continue
		}
		s.metrics.TasksDispatched.WithLabelValues(string(t.Kind())).Inc()

		if err := pool.submit(j); err != nil {
			if s.queue.Add(t) {
				s.logger.Info("worker pool rejected task, returned it to the queue", "task", t)
			} else {
				s.logger.Error("worker pool rejected task and the queue is full", "task", t)
			}
			return
		}
	}
}

// jobFor classifies t and binds it to its worker unit.
func (s *Service) jobFor(t task.Task) (job, bool) {
	var unit func(ctx context.Context) unitResult

	switch tk := t.(type) {
	case *task.AddByObject:
		unit = func(ctx context.Context) unitResult { return s.indexObjects(ctx, tk) }
	case *task.AddByIdentifier:
		unit = func(ctx context.Context) unitResult { return s.indexByIdentifier(ctx, tk) }
	case *task.Delete:
		unit = func(ctx context.Context) unitResult { return s.deleteDocuments(ctx, tk) }
	default:
		s.logger.Error("unknown task type, dropping task",
			"task_kind", t.Kind(),
			"account_id", t.AccountID())
		return job{}, false
	}

	return job{
		task: t,
		run: func(ctx context.Context, onCaller bool) {
			s.execute(ctx, t, unit, onCaller)
		},
	}, true
}

// sleep waits for d or until ctx ends and reports whether the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
