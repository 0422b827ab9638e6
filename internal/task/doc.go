// Package task describes units of asynchronous indexing work. A task names
// the mailbox it belongs to and carries the items to add or the documents to
// delete; it is handed from producers to the indexing service through a
// queue adapter and may be requeued a bounded number of times on failure.
package task
