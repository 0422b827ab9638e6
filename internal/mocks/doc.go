// Package mocks provides centralized mock implementations for testing.
//
// The mocks keep enough in-memory state to behave like the real
// implementations (a shard remembers which rows were marked indexed, an
// indexer remembers which documents it stored) and expose function fields
// that override individual methods to inject failures.
//
// Usage:
//
//	import "github.com/phrazzld/mailindex/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    shards := mocks.NewMockShardProvider(rows...)
//	    idx := mocks.NewMockIndexStore()
//	    idx.Account("acct1").AddFn = func(ctx context.Context, batch []index.ItemDocuments) error {
//	        return errors.New("backend unavailable")
//	    }
//
//	    // Use the mocks in your test...
//	}
package mocks
