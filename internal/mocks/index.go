package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/mailindex/internal/index"
)

// MockIndexStore implements index.Store with one MockIndexer per account.
type MockIndexStore struct {
	// IndexerFn overrides Indexer when set
	IndexerFn func(ctx context.Context, accountID string) (index.Indexer, error)

	mu       sync.Mutex
	indexers map[string]*MockIndexer
	closed   bool
}

// NewMockIndexStore creates an empty store.
func NewMockIndexStore() *MockIndexStore {
	return &MockIndexStore{indexers: make(map[string]*MockIndexer)}
}

// Indexer implements index.Store.
func (s *MockIndexStore) Indexer(ctx context.Context, accountID string) (index.Indexer, error) {
	if s.IndexerFn != nil {
		return s.IndexerFn(ctx, accountID)
	}
	return s.Account(accountID), nil
}

// Account returns the indexer for accountID, creating it if needed. Tests use
// it to install overrides before the engine opens the indexer.
func (s *MockIndexStore) Account(accountID string) *MockIndexer {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexers[accountID]
	if !ok {
		idx = &MockIndexer{docs: make(map[string]index.Document)}
		s.indexers[accountID] = idx
	}
	return idx
}

// Close implements index.Store.
func (s *MockIndexStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// MockIndexer implements index.Indexer and keeps the stored documents in memory.
type MockIndexer struct {
	// Custom behavior functions, called before the default behavior.
	// A non-nil error aborts the call.
	AddFn    func(ctx context.Context, batch []index.ItemDocuments) error
	DeleteFn func(ctx context.Context, deletions []index.Deletion) error

	mu          sync.Mutex
	docs        map[string]index.Document
	itemIDs     []int
	deletions   []index.Deletion
	addCalls    int
	deleteCalls int
}

// Add implements index.Indexer.
func (m *MockIndexer) Add(ctx context.Context, batch []index.ItemDocuments) error {
	m.mu.Lock()
	m.addCalls++
	m.mu.Unlock()

	if m.AddFn != nil {
		if err := m.AddFn(ctx, batch); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range batch {
		m.itemIDs = append(m.itemIDs, item.ItemID)
		for _, doc := range item.Documents {
			m.docs[doc.ID] = doc
		}
	}
	return nil
}

// Delete implements index.Indexer.
func (m *MockIndexer) Delete(ctx context.Context, deletions []index.Deletion) error {
	m.mu.Lock()
	m.deleteCalls++
	m.mu.Unlock()

	if m.DeleteFn != nil {
		if err := m.DeleteFn(ctx, deletions); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletions = append(m.deletions, deletions...)
	for _, d := range deletions {
		for id, doc := range m.docs {
			if itemID, ok := doc.Fields[index.FieldItemID].(float64); ok && int(itemID) == d.ItemID {
				delete(m.docs, id)
			}
		}
		for _, id := range d.DocumentIDs {
			delete(m.docs, id)
		}
	}
	return nil
}

// ItemIDs returns the ids of every item added, in order.
func (m *MockIndexer) ItemIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.itemIDs...)
}

// Document returns a stored document by id.
func (m *MockIndexer) Document(id string) (index.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	return doc, ok
}

// DocumentCount returns the number of stored documents.
func (m *MockIndexer) DocumentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// Deletions returns every deletion applied.
func (m *MockIndexer) Deletions() []index.Deletion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]index.Deletion(nil), m.deletions...)
}

// AddCalls returns how many times Add was called.
func (m *MockIndexer) AddCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addCalls
}

// DeleteCalls returns how many times Delete was called.
func (m *MockIndexer) DeleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCalls
}

var (
	_ index.Store   = (*MockIndexStore)(nil)
	_ index.Indexer = (*MockIndexer)(nil)
)
