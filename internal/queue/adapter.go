// Package queue provides the hand-off between producers of indexing tasks
// and the indexing service, together with per-account progress counters and
// job status used to track bulk reindex jobs.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/mailindex/internal/task"
)

// Common errors returned by queue adapters
var (
	ErrQueueFull     = errors.New("indexing queue is full")
	ErrInvalidStatus = errors.New("invalid task status")
)

// DefaultCapacity is the number of tasks a local adapter holds before
// producers block.
const DefaultCapacity = 10000

// Status is the state of an account's reindex job.
type Status int32

// Possible job status values. The zero value is StatusIdle.
const (
	StatusIdle Status = iota
	StatusAborted
	StatusDone
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAborted:
		return "aborted"
	case StatusDone:
		return "done"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts a status name into a Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "idle", "":
		return StatusIdle, nil
	case "aborted":
		return StatusAborted, nil
	case "done":
		return StatusDone, nil
	}
	return StatusIdle, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Progress is a point-in-time snapshot of an account's job counters.
type Progress struct {
	AccountID string `json:"account_id"`
	Total     int64  `json:"total"`
	Succeeded int64  `json:"succeeded"`
	Failed    int64  `json:"failed"`
	Remaining int64  `json:"remaining"`
	Status    Status `json:"status"`
}

// NewProgress builds a snapshot and derives Remaining.
func NewProgress(accountID string, total, succeeded, failed int64, status Status) Progress {
	remaining := total - succeeded - failed
	if remaining < 0 {
		remaining = 0
	}
	return Progress{
		AccountID: accountID,
		Total:     total,
		Succeeded: succeeded,
		Failed:    failed,
		Remaining: remaining,
		Status:    status,
	}
}

// Adapter is a bounded FIFO of indexing tasks plus per-account counters and
// job status. Implementations must be safe for concurrent use.
type Adapter interface {
	// Put appends a task, blocking while the queue is full. It returns
	// ctx.Err() if the context ends before space becomes available.
	Put(ctx context.Context, t task.Task) error

	// Add appends a task if there is space and reports whether it did.
	Add(t task.Task) bool

	// Take removes and returns the head task, blocking until one is
	// available. It returns false if the context ends first.
	Take(ctx context.Context) (task.Task, bool)

	// Peek returns the head task without removing it.
	Peek() (task.Task, bool)

	// HasMoreItems reports whether the queue is non-empty.
	HasMoreItems() bool

	// Len returns the number of queued tasks.
	Len() int

	// Capacity returns the maximum number of queued tasks.
	Capacity() int

	// Drain removes every queued task and resets all counters and status.
	Drain()

	IncrementSucceeded(accountID string, n int64)
	IncrementFailed(accountID string, n int64)
	SetTotal(accountID string, n int64)
	SetSucceeded(accountID string, n int64)
	SetFailed(accountID string, n int64)
	Total(accountID string) int64
	Succeeded(accountID string) int64
	Failed(accountID string) int64

	// DeleteMailboxTaskCounts forgets the counters and status of one account.
	DeleteMailboxTaskCounts(accountID string)

	// ClearAllTaskCounts forgets the counters and status of every account.
	ClearAllTaskCounts()

	// TaskStatus returns the job status of an account, StatusIdle if unknown.
	TaskStatus(accountID string) Status
	SetTaskStatus(accountID string, status Status)

	// JobID returns the account's current reindex job, uuid.Nil if unknown.
	// Reindex tasks tagged with another job no longer count toward progress.
	JobID(accountID string) uuid.UUID
	SetJobID(accountID string, jobID uuid.UUID)

	// Progress returns a snapshot of an account's counters and status.
	Progress(accountID string) Progress
}
