package api

import (
	"fmt"

	"github.com/phrazzld/mailindex/internal/mailbox"
	"github.com/phrazzld/mailindex/internal/queue"
	"github.com/phrazzld/mailindex/internal/reindex"
	"github.com/phrazzld/mailindex/internal/task"
)

// ReindexRequest defines the payload for starting a reindex job.
type ReindexRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	MailboxID int    `json:"mailbox_id" validate:"required,gt=0"`
	ShardID   int    `json:"shard_id"   validate:"gte=0"`

	// Types restricts the job to item types such as "message". It cannot be
	// combined with IDs.
	Types []string `json:"types,omitempty" validate:"omitempty,excluded_with=IDs,dive,required"`

	// IDs lists explicit item ids to reindex
	IDs []int `json:"ids,omitempty" validate:"omitempty,dive,gt=0"`

	IndexAttachments bool `json:"index_attachments"`
}

// toDriverRequest converts the payload, resolving type names.
func (r ReindexRequest) toDriverRequest() (reindex.Request, error) {
	types := make([]mailbox.ItemType, 0, len(r.Types))
	for _, name := range r.Types {
		t, err := mailbox.ParseItemType(name)
		if err != nil {
			return reindex.Request{}, fmt.Errorf("invalid types: %w", err)
		}
		types = append(types, t)
	}

	return reindex.Request{
		AccountID:        r.AccountID,
		MailboxID:        r.MailboxID,
		ShardID:          r.ShardID,
		Types:            types,
		IDs:              r.IDs,
		IndexAttachments: r.IndexAttachments,
	}, nil
}

// ReindexResponse reports the progress of an account's job.
type ReindexResponse struct {
	queue.Progress

	// Enqueuing is true while batches are still being fed to the queue
	Enqueuing bool `json:"enqueuing"`
}

// TaskSummary describes a queued task.
type TaskSummary struct {
	ID        string    `json:"id"`
	Kind      task.Kind `json:"kind"`
	AccountID string    `json:"account_id"`
	MailboxID int       `json:"mailbox_id"`
	ShardID   int       `json:"shard_id"`
	Items     int       `json:"items"`
	Reindex   bool      `json:"reindex"`
	Retries   int       `json:"retries"`
}

func summarize(t task.Task) *TaskSummary {
	return &TaskSummary{
		ID:        t.ID().String(),
		Kind:      t.Kind(),
		AccountID: t.AccountID(),
		MailboxID: t.MailboxID(),
		ShardID:   t.ShardID(),
		Items:     t.ItemCount(),
		Reindex:   t.IsReindex(),
		Retries:   t.Retries(),
	}
}

// QueueResponse describes the indexing queue.
type QueueResponse struct {
	Length       int          `json:"length"`
	Capacity     int          `json:"capacity"`
	HasMoreItems bool         `json:"has_more_items"`
	Head         *TaskSummary `json:"head,omitempty"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Indexing bool   `json:"indexing"`
}
