// Package indexing implements the asynchronous indexing service.
//
// A single dispatcher goroutine takes tasks from a queue.Adapter and submits
// one worker unit per task to a fixed pool of worker goroutines. The pool has
// a bounded backlog; when the backlog is full the dispatcher executes the
// unit itself, which throttles how fast the queue is drained.
//
// Every unit reports an explicit result. Failed attempts are requeued at the
// tail of the queue until the task has been retried MaxRetries times, after
// which the failure is permanent and, for reindex tasks, recorded in the
// account's failed counter.
package indexing
