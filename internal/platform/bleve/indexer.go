package bleve

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/phrazzld/mailindex/internal/index"
)

// indexer writes to one account's bleve index. It holds no handle between
// calls, so the store may evict the index while the indexer is idle.
type indexer struct {
	store     *Store
	accountID string
}

func newMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = "standard"
	return m
}

// Add stores every document of batch in one bleve batch.
func (ix *indexer) Add(ctx context.Context, batch []index.ItemDocuments) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h, err := ix.store.acquire(ix.accountID)
	if err != nil {
		return err
	}
	defer ix.store.release(ix.accountID, h)

	b := h.idx.NewBatch()
	for _, item := range batch {
		for _, doc := range item.Documents {
			if err := b.Index(doc.ID, doc.Fields); err != nil {
				return fmt.Errorf("failed to add document %s to batch: %w", doc.ID, err)
			}
		}
	}
	if b.Size() == 0 {
		return nil
	}
	if err := h.idx.Batch(b); err != nil {
		return fmt.Errorf("failed to write batch to index %s: %w", ix.accountID, err)
	}
	return nil
}

// Delete removes the listed documents, or every document of the item when a
// deletion names none.
func (ix *indexer) Delete(ctx context.Context, deletions []index.Deletion) error {
	h, err := ix.store.acquire(ix.accountID)
	if err != nil {
		return err
	}
	defer ix.store.release(ix.accountID, h)

	b := h.idx.NewBatch()
	for _, d := range deletions {
		ids := d.DocumentIDs
		if len(ids) == 0 {
			found, err := documentsOf(ctx, h.idx, d.ItemID)
			if err != nil {
				return err
			}
			ids = found
		}
		for _, id := range ids {
			b.Delete(id)
		}
	}
	if b.Size() == 0 {
		return nil
	}
	if err := h.idx.Batch(b); err != nil {
		return fmt.Errorf("failed to delete from index %s: %w", ix.accountID, err)
	}
	return nil
}

// documentsOf returns the ids of every document stored for itemID.
func documentsOf(ctx context.Context, idx bleve.Index, itemID int) ([]string, error) {
	v := float64(itemID)
	inclusive := true
	q := bleve.NewNumericRangeInclusiveQuery(&v, &v, &inclusive, &inclusive)
	q.SetField(index.FieldItemID)

	req := bleve.NewSearchRequestOptions(q, maxPartsPerItem, 0, false)
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to look up documents of item %d: %w", itemID, err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}
