package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailindex/internal/index"
	"github.com/phrazzld/mailindex/internal/mailbox"
	"github.com/phrazzld/mailindex/internal/metrics"
	"github.com/phrazzld/mailindex/internal/platform/logger"
	"github.com/phrazzld/mailindex/internal/queue"
	"github.com/phrazzld/mailindex/internal/store"
	"github.com/phrazzld/mailindex/internal/task"
)

// ErrTaskPanicked wraps a panic recovered from a worker unit.
var ErrTaskPanicked = errors.New("indexing task panicked")

// unitResult is the outcome of one execution attempt of a worker unit.
// A non-nil err fails the whole attempt; processed and notFound are only
// meaningful when err is nil.
type unitResult struct {
	processed int
	notFound  int
	err       error
}

// execute runs unit for t and applies the retry policy to its result.
func (s *Service) execute(ctx context.Context, t task.Task, unit func(context.Context) unitResult, onCaller bool) {
	kind := string(t.Kind())
	log := s.logger.With(slog.Any("task", t))
	ctx = logger.WithLogger(ctx, log)

	if t.IsReindex() && !s.currentJob(t) {
		s.metrics.TaskResults.WithLabelValues(kind, metrics.OutcomeSuperseded).Inc()
		log.Info("reindex job superseded, skipping task")
		return
	}

	if t.IsReindex() && s.queue.TaskStatus(t.AccountID()) == queue.StatusAborted {
		s.queue.IncrementFailed(t.AccountID(), int64(t.ItemCount()))
		s.metrics.TaskResults.WithLabelValues(kind, metrics.OutcomeAborted).Inc()
		log.Info("reindex job aborted, skipping task")
		return
	}

	start := time.Now()
	res := runSafely(ctx, unit)
	s.metrics.TaskDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	switch {
	case res.err == nil:
		s.complete(t, res, log)
	case ctx.Err() != nil:
		s.metrics.TaskResults.WithLabelValues(kind, metrics.OutcomeInterrupted).Inc()
		if s.queue.Add(t) {
			log.Info("task interrupted by shutdown, returned to the queue")
		} else {
			log.Warn("task interrupted by shutdown and the queue is full, dropping task",
				slog.String("error", res.err.Error()))
		}
	default:
		s.fail(ctx, t, res.err, onCaller, log)
	}
}

// currentJob reports whether t belongs to the account's current reindex job.
// Untagged tasks always do.
func (s *Service) currentJob(t task.Task) bool {
	job := t.JobID()
	return job == uuid.Nil || job == s.queue.JobID(t.AccountID())
}

func runSafely(ctx context.Context, unit func(context.Context) unitResult) (res unitResult) {
	defer func() {
		if p := recover(); p != nil {
			res = unitResult{err: fmt.Errorf("%w: %v", ErrTaskPanicked, p)}
		}
	}()
	return unit(ctx)
}

func (s *Service) complete(t task.Task, res unitResult, log *slog.Logger) {
	s.metrics.TaskResults.WithLabelValues(string(t.Kind()), metrics.OutcomeSucceeded).Inc()

	outcome := metrics.ItemIndexed
	if t.Kind() == task.KindDelete {
		outcome = metrics.ItemDeleted
	}
	s.metrics.ItemResults.WithLabelValues(outcome).Add(float64(res.processed))
	if res.notFound > 0 {
		s.metrics.ItemResults.WithLabelValues(metrics.ItemNotFound).Add(float64(res.notFound))
	}

	if t.IsReindex() && s.currentJob(t) {
		if res.processed > 0 {
			s.queue.IncrementSucceeded(t.AccountID(), int64(res.processed))
		}
		if res.notFound > 0 {
			s.queue.IncrementFailed(t.AccountID(), int64(res.notFound))
		}
	}

	log.Debug("task completed",
		slog.Int("processed", res.processed),
		slog.Int("not_found", res.notFound))
}

func (s *Service) fail(ctx context.Context, t task.Task, err error, onCaller bool, log *slog.Logger) {
	kind := string(t.Kind())

	if t.Retries() < s.cfg.MaxRetries {
		t.AddRetry()
		s.metrics.TaskResults.WithLabelValues(kind, metrics.OutcomeRetried).Inc()
		log.Warn("task failed, requeueing",
			slog.String("error", err.Error()),
			slog.Int("attempt", t.Retries()),
			slog.Int("max_retries", s.cfg.MaxRetries))
		s.requeue(ctx, t, onCaller, log)
		return
	}

	s.metrics.TaskResults.WithLabelValues(kind, metrics.OutcomeFailed).Inc()
	log.Error("task failed permanently",
		slog.String("error", err.Error()),
		slog.Int("max_retries", s.cfg.MaxRetries))
	if t.IsReindex() && s.currentJob(t) {
		s.queue.IncrementFailed(t.AccountID(), int64(t.ItemCount()))
	}
}

// requeue appends t to the tail of the queue. A unit running on the
// dispatcher never blocks on a full queue since the dispatcher is its only
// consumer.
func (s *Service) requeue(ctx context.Context, t task.Task, onCaller bool, log *slog.Logger) {
	if s.queue.Add(t) {
		return
	}

	if onCaller {
		s.metrics.DeferredRequeues.Inc()
		s.requeues.Add(1)
		go func() {
			defer s.requeues.Done()
			if err := s.queue.Put(ctx, t); err != nil {
				log.Error("failed to requeue task", slog.String("error", err.Error()))
			}
		}()
		return
	}

	if err := s.queue.Put(ctx, t); err != nil {
		log.Error("failed to requeue task", slog.String("error", err.Error()))
	}
}

func (s *Service) deleteDocuments(ctx context.Context, t *task.Delete) unitResult {
	idx, err := s.index.Indexer(ctx, t.AccountID())
	if err != nil {
		return unitResult{err: fmt.Errorf("failed to open indexer: %w", err)}
	}
	if err := idx.Delete(ctx, t.Deletions()); err != nil {
		return unitResult{err: fmt.Errorf("failed to delete documents: %w", err)}
	}
	return unitResult{processed: t.ItemCount()}
}

func (s *Service) indexObjects(ctx context.Context, t *task.AddByObject) unitResult {
	var res unitResult
	err := store.RunInShard(ctx, s.shards, t.MailboxID(), t.ShardID(), func(ctx context.Context, conn store.ShardConn) error {
		processed, err := s.indexAndMark(ctx, conn, t, t.Items())
		if err != nil {
			return err
		}
		res.processed = processed
		return nil
	})
	if err != nil {
		return unitResult{err: err}
	}
	return res
}

func (s *Service) indexByIdentifier(ctx context.Context, t *task.AddByIdentifier) unitResult {
	log := logger.FromContext(ctx)

	var res unitResult
	err := store.RunInShard(ctx, s.shards, t.MailboxID(), t.ShardID(), func(ctx context.Context, conn store.ShardConn) error {
		items := make([]mailbox.Item, 0, t.ItemCount())
		notFound := 0

		for _, id := range t.Identifiers() {
			row, err := loadRow(ctx, conn, id)
			if store.IsNotFoundError(err) {
				notFound++
				log.Warn("item not found in either table, skipping",
					slog.Int("item_id", id.ID),
					slog.String("item_type", id.Type.String()))
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to load item %d: %w", id.ID, err)
			}

			item, err := s.materialize(t.AccountID(), row)
			if err != nil {
				return fmt.Errorf("failed to materialize item %d: %w", id.ID, err)
			}
			items = append(items, item)
		}

		processed, err := s.indexAndMark(ctx, conn, t, items)
		if err != nil {
			return err
		}
		res = unitResult{processed: processed, notFound: notFound}
		return nil
	})
	if err != nil {
		return unitResult{err: err}
	}
	return res
}

// loadRow fetches the row for id, falling back to the opposite table when the
// item moved in or out of the dumpster after the task was enqueued.
func loadRow(ctx context.Context, conn store.ShardConn, id mailbox.ItemIdentifier) (*store.ItemRow, error) {
	row, err := conn.GetByID(ctx, id.ID, id.Type, id.InDumpster)
	if !store.IsNotFoundError(err) {
		return row, err
	}

	row, err = conn.GetByID(ctx, id.ID, id.Type, !id.InDumpster)
	if err == nil {
		logger.FromContext(ctx).Debug("item found with opposite dumpster flag",
			slog.Int("item_id", id.ID),
			slog.Bool("in_dumpster", !id.InDumpster))
	}
	return row, err
}

// indexAndMark adds the documents of items to the account index in one batch,
// then marks every item indexed in one update. It returns the number of items
// handled.
func (s *Service) indexAndMark(ctx context.Context, conn store.ShardConn, t task.Task, items []mailbox.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	batch := make([]index.ItemDocuments, 0, len(items))
	ids := make([]int, 0, len(items))
	for _, item := range items {
		docs, err := item.IndexDocuments(t.IndexAttachments())
		if err != nil {
			return 0, fmt.Errorf("failed to build documents for item %d: %w", item.ID(), err)
		}
		ids = append(ids, item.ID())
		if len(docs) > 0 {
			batch = append(batch, index.ItemDocuments{ItemID: item.ID(), Documents: docs})
		}
	}

	if len(batch) > 0 {
		idx, err := s.index.Indexer(ctx, t.AccountID())
		if err != nil {
			return 0, fmt.Errorf("failed to open indexer: %w", err)
		}
		if err := idx.Add(ctx, batch); err != nil {
			return 0, fmt.Errorf("failed to add documents: %w", err)
		}
	}

	if err := conn.SetIndexIDs(ctx, ids); err != nil {
		return 0, fmt.Errorf("failed to mark items indexed: %w", err)
	}
	return len(items), nil
}
