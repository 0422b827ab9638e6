package queue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailindex/internal/index"
	"github.com/phrazzld/mailindex/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newDeleteTask(t *testing.T, itemID int) task.Task {
	t.Helper()
	tk, err := task.NewDelete(
		task.Routing{AccountID: "acct1", MailboxID: 100, ShardID: 7},
		[]index.Deletion{{ItemID: itemID}},
	)
	require.NoError(t, err)
	return tk
}

func TestLocalAdapter_FIFO(t *testing.T) {
	t.Parallel()

	q := NewLocalAdapter(10, testLogger())
	ctx := context.Background()

	var queued []task.Task
	for i := 1; i <= 5; i++ {
		tk := newDeleteTask(t, i)
		queued = append(queued, tk)
		require.NoError(t, q.Put(ctx, tk))
	}

	for _, want := range queued {
		got, ok := q.Take(ctx)
		require.True(t, ok)
		assert.Equal(t, want.ID(), got.ID())
	}
	assert.False(t, q.HasMoreItems())
}

func TestLocalAdapter_AddWhenFull(t *testing.T) {
	t.Parallel()

	q := NewLocalAdapter(3, testLogger())
	for i := 0; i < 3; i++ {
		assert.True(t, q.Add(newDeleteTask(t, i+1)))
	}
	assert.False(t, q.Add(newDeleteTask(t, 4)))
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 3, q.Capacity())
}

func TestLocalAdapter_PutBlocksAtCapacity(t *testing.T) {
	t.Parallel()

	const capacity = 2
	q := NewLocalAdapter(capacity, testLogger())
	ctx := context.Background()

	for i := 0; i < capacity; i++ {
		require.NoError(t, q.Put(ctx, newDeleteTask(t, i+1)))
	}

	extra := newDeleteTask(t, 99)
	done := make(chan error, 1)
	go func() {
		done <- q.Put(ctx, extra)
	}()

	select {
	case <-done:
		t.Fatal("Put returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok := q.Take(ctx)
	require.True(t, ok)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Put did not unblock after a Take")
	}
	assert.Equal(t, capacity, q.Len())
}

func TestLocalAdapter_PutHonorsContext(t *testing.T) {
	t.Parallel()

	q := NewLocalAdapter(1, testLogger())
	require.True(t, q.Add(newDeleteTask(t, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Put(ctx, newDeleteTask(t, 2))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}

func TestLocalAdapter_TakeTimesOut(t *testing.T) {
	t.Parallel()

	q := NewLocalAdapter(1, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	tk, ok := q.Take(ctx)
	assert.False(t, ok)
	assert.Nil(t, tk)
}

func TestLocalAdapter_Peek(t *testing.T) {
	t.Parallel()

	q := NewLocalAdapter(5, testLogger())
	_, ok := q.Peek()
	assert.False(t, ok)

	first := newDeleteTask(t, 1)
	require.True(t, q.Add(first))
	require.True(t, q.Add(newDeleteTask(t, 2)))

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, first.ID(), head.ID())
	assert.Equal(t, 2, q.Len(), "peek must not remove the task")
}

func TestLocalAdapter_Drain(t *testing.T) {
	t.Parallel()

	q := NewLocalAdapter(3, testLogger())
	for i := 0; i < 3; i++ {
		require.True(t, q.Add(newDeleteTask(t, i+1)))
	}
	q.SetTotal("acct1", 10)
	q.SetTaskStatus("acct1", StatusAborted)

	q.Drain()

	assert.False(t, q.HasMoreItems())
	assert.Equal(t, int64(0), q.Total("acct1"))
	assert.Equal(t, StatusIdle, q.TaskStatus("acct1"))

	// capacity is fully available again
	for i := 0; i < 3; i++ {
		assert.True(t, q.Add(newDeleteTask(t, i+10)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := q.Take(ctx)
	require.True(t, ok)
	assert.Equal(t, 10, got.(*task.Delete).Deletions()[0].ItemID)
}

func TestLocalAdapter_ConcurrentIncrements(t *testing.T) {
	t.Parallel()

	q := NewLocalAdapter(1, testLogger())
	q.SetTotal("acct1", 1_000_000)

	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				q.IncrementSucceeded("acct1", 1)
				q.IncrementFailed("acct1", 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(goroutines*perGoroutine), q.Succeeded("acct1"))
	assert.Equal(t, int64(goroutines*perGoroutine), q.Failed("acct1"))
	assert.Equal(t, StatusIdle, q.TaskStatus("acct1"))
}

func TestLocalAdapter_AddWhileConsumerRetries(t *testing.T) {
	t.Parallel()

	q := NewLocalAdapter(4, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const rounds = 200
	tk := newDeleteTask(t, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			if err := q.Put(ctx, tk); err != nil {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			got, ok := q.Take(ctx)
			if !ok {
				return
			}
			got.AddRetry()
		}
	}()
	wg.Wait()

	require.NoError(t, ctx.Err())
	assert.Equal(t, rounds, tk.Retries())
}

func TestLocalAdapter_JobID(t *testing.T) {
	t.Parallel()

	q := NewLocalAdapter(1, testLogger())
	assert.Equal(t, uuid.Nil, q.JobID("acct1"))

	job := uuid.New()
	q.SetJobID("acct1", job)
	assert.Equal(t, job, q.JobID("acct1"))

	q.DeleteMailboxTaskCounts("acct1")
	assert.Equal(t, uuid.Nil, q.JobID("acct1"), "reset forgets the job")
}

func TestLocalAdapter_Convergence(t *testing.T) {
	t.Parallel()

	q := NewLocalAdapter(1, testLogger())
	q.SetTotal("acct1", 3)

	q.IncrementSucceeded("acct1", 2)
	assert.Equal(t, StatusIdle, q.TaskStatus("acct1"))

	q.IncrementFailed("acct1", 1)
	assert.Equal(t, StatusDone, q.TaskStatus("acct1"))

	p := q.Progress("acct1")
	assert.Equal(t, int64(3), p.Total)
	assert.Equal(t, int64(2), p.Succeeded)
	assert.Equal(t, int64(1), p.Failed)
	assert.Equal(t, int64(0), p.Remaining)
}

func TestLocalAdapter_AbortIsSticky(t *testing.T) {
	t.Parallel()

	q := NewLocalAdapter(1, testLogger())
	q.SetTotal("acct1", 2)
	q.SetTaskStatus("acct1", StatusAborted)

	q.IncrementSucceeded("acct1", 1)
	q.IncrementFailed("acct1", 5)
	assert.Equal(t, StatusAborted, q.TaskStatus("acct1"))

	q.SetTotal("acct1", 1)
	q.IncrementSucceeded("acct1", 1)
	assert.Equal(t, StatusAborted, q.TaskStatus("acct1"), "a new total alone does not clear an abort")

	q.DeleteMailboxTaskCounts("acct1")
	assert.Equal(t, StatusIdle, q.TaskStatus("acct1"))
	assert.Equal(t, int64(0), q.Succeeded("acct1"))

	q.SetTotal("acct1", 1)
	q.IncrementSucceeded("acct1", 1)
	assert.Equal(t, StatusDone, q.TaskStatus("acct1"))
}

func TestLocalAdapter_UnknownAccount(t *testing.T) {
	t.Parallel()

	q := NewLocalAdapter(1, testLogger())
	assert.Equal(t, int64(0), q.Total("nobody"))
	assert.Equal(t, int64(0), q.Succeeded("nobody"))
	assert.Equal(t, int64(0), q.Failed("nobody"))
	assert.Equal(t, StatusIdle, q.TaskStatus("nobody"))

	q.SetTotal("a", 1)
	q.SetTotal("b", 1)
	q.ClearAllTaskCounts()
	assert.Equal(t, int64(0), q.Total("a"))
	assert.Equal(t, int64(0), q.Total("b"))
}

func TestLocalAdapter_InvalidCapacity(t *testing.T) {
	t.Parallel()

	q := NewLocalAdapter(0, testLogger())
	assert.Equal(t, DefaultCapacity, q.Capacity())
}

func TestShared_FirstConstructionWins(t *testing.T) {
	first := Shared(5, testLogger())
	second := Shared(50, testLogger())

	assert.Same(t, first, second)
	assert.Equal(t, first.Capacity(), second.Capacity())
}

func TestStatus_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(NewProgress("acct1", 5, 2, 1, StatusAborted))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"account_id":"acct1","total":5,"succeeded":2,"failed":1,"remaining":2,"status":"aborted"}`,
		string(b))

	var s Status
	require.NoError(t, s.UnmarshalText([]byte("done")))
	assert.Equal(t, StatusDone, s)
	assert.Error(t, s.UnmarshalText([]byte("paused")))
}
