// Package bleve implements index.Store on top of bleve. Every account gets
// its own index, either on disk under a root directory or in memory.
package bleve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/phrazzld/mailindex/internal/config"
	"github.com/phrazzld/mailindex/internal/index"
)

// Backend names accepted by Open.
const (
	BackendDisk   = "bleve"
	BackendMemory = "memory"
)

// DefaultOpenIndexes is the number of on-disk indexes kept open when no
// cache size is configured.
const DefaultOpenIndexes = 256

// maxPartsPerItem bounds how many documents a delete-by-item lookup removes.
const maxPartsPerItem = 1000

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown index backend")

// Store hands out one bleve index per account. On-disk indexes are kept in
// an LRU of open handles; memory indexes live until the store is closed.
//
// Every indexer operation holds a reference on its handle. An evicted handle
// that is still referenced moves to draining and is closed by its last
// release, or revived if its account is opened again before that.
type Store struct {
	backend string
	root    string
	logger  *slog.Logger

	mu       sync.Mutex
	disk     *lru.Cache[string, *handle]
	draining map[string]*handle
	memory   map[string]*handle
	closed   bool
}

// handle is an open index and its reference count, guarded by Store.mu.
type handle struct {
	idx     bleve.Index
	refs    int
	evicted bool
}

// Open creates a Store from the index configuration.
func Open(cfg config.IndexConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend:  cfg.Backend,
		root:     cfg.Path,
		logger:   logger.With("component", "bleve_store"),
		draining: make(map[string]*handle),
		memory:   make(map[string]*handle),
	}

	switch cfg.Backend {
	case BackendMemory:
	case BackendDisk:
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		size := cfg.OpenIndexCacheSize
		if size <= 0 {
			size = DefaultOpenIndexes
		}
		cache, err := lru.NewWithEvict[string, *handle](size, s.onEvict)
		if err != nil {
			return nil, err
		}
		s.disk = cache
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}

	return s, nil
}

// NewMemory creates a Store of in-memory indexes.
func NewMemory(logger *slog.Logger) *Store {
	s, _ := Open(config.IndexConfig{Backend: BackendMemory}, logger)
	return s
}

// onEvict runs with s.mu held: every cache mutation happens under it.
func (s *Store) onEvict(accountID string, h *handle) {
	if h.refs > 0 {
		h.evicted = true
		s.draining[accountID] = h
		s.logger.Debug("evicted index still in use, deferring close",
			slog.String("account_id", accountID),
			slog.Int("refs", h.refs))
		return
	}
	s.closeHandle(accountID, h)
}

func (s *Store) closeHandle(accountID string, h *handle) {
	if err := h.idx.Close(); err != nil {
		s.logger.Warn("failed to close evicted index",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("closed evicted index", slog.String("account_id", accountID))
}

// Indexer implements index.Store. The index is opened eagerly so open
// errors surface here; each operation then takes its own reference.
func (s *Store) Indexer(_ context.Context, accountID string) (index.Indexer, error) {
	h, err := s.acquire(accountID)
	if err != nil {
		return nil, err
	}
	s.release(accountID, h)
	return &indexer{store: s, accountID: accountID}, nil
}

// acquire returns the account's open handle with one more reference. The
// caller must release it.
func (s *Store) acquire(accountID string) (*handle, error) {
	if err := validateAccount(accountID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, index.ErrIndexClosed
	}

	h, err := s.open(accountID)
	if err != nil {
		return nil, err
	}
	h.refs++
	return h, nil
}

// release drops a reference taken by acquire and closes the handle if it
// was evicted meanwhile.
func (s *Store) release(accountID string, h *handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h.refs--
	if h.evicted && h.refs == 0 {
		delete(s.draining, accountID)
		s.closeHandle(accountID, h)
	}
}

func (s *Store) open(accountID string) (*handle, error) {
	if s.backend == BackendMemory {
		if h, ok := s.memory[accountID]; ok {
			return h, nil
		}
		idx, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create memory index: %w", err)
		}
		h := &handle{idx: idx}
		s.memory[accountID] = h
		return h, nil
	}

	if h, ok := s.disk.Get(accountID); ok {
		return h, nil
	}

	// the same files cannot be opened twice, so a draining handle is reused
	if h, ok := s.draining[accountID]; ok {
		delete(s.draining, accountID)
		h.evicted = false
		s.disk.Add(accountID, h)
		s.logger.Debug("revived draining index", slog.String("account_id", accountID))
		return h, nil
	}

	path := filepath.Join(s.root, accountID+".bleve")
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, newMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index for account %s: %w", accountID, err)
	}

	h := &handle{idx: idx}
	s.disk.Add(accountID, h)
	s.logger.Debug("opened index",
		slog.String("account_id", accountID),
		slog.String("path", path))
	return h, nil
}

// DocCount returns the number of documents in an account's index.
func (s *Store) DocCount(accountID string) (uint64, error) {
	h, err := s.acquire(accountID)
	if err != nil {
		return 0, err
	}
	defer s.release(accountID, h)
	return h.idx.DocCount()
}

// Close implements index.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for accountID, h := range s.memory {
		if err := h.idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", accountID, err))
		}
	}
	s.memory = nil
	if s.disk != nil {
		// Purge runs the eviction callback for every open index; indexes
		// still in use are closed by their last release
		s.disk.Purge()
	}
	return errors.Join(errs...)
}

// validateAccount rejects account ids that cannot be used as a file name.
func validateAccount(accountID string) error {
	switch {
	case accountID == "":
		return index.ErrInvalidAccount
	case strings.ContainsAny(accountID, `/\`), accountID == ".", accountID == "..":
		return fmt.Errorf("%w: %q", index.ErrInvalidAccount, accountID)
	}
	return nil
}

var _ index.Store = (*Store)(nil)
