// Package store provides abstractions and implementations for data persistence
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/mailindex/internal/platform/logger"
)

// ShardFn is a function that executes within a shard transaction.
// It receives the context and the open connection, and returns an error if the operation fails.
// The transaction is committed if the function returns nil, or rolled back if it returns an error.
type ShardFn func(ctx context.Context, conn ShardConn) error

// RunInShard executes fn within a transaction on the shard holding mailboxID.
// If fn returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
// Panics roll the transaction back and are re-raised.
func RunInShard(ctx context.Context, shards ShardProvider, mailboxID, shardID int, fn ShardFn) error {
	log := logger.FromContext(ctx).With(
		slog.Int("mailbox_id", mailboxID),
		slog.Int("shard_id", shardID))

	conn, err := shards.Conn(ctx, mailboxID, shardID)
	if err != nil {
		log.Error("failed to open shard connection",
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to open shard connection: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if closeErr := conn.Close(); closeErr != nil {
				log.Error("failed to roll back shard transaction after panic",
					slog.String("error", closeErr.Error()),
					slog.Any("panic", p))
			} else {
				log.Error("rolled back shard transaction after panic",
					slog.Any("panic", p))
			}
			// ALLOW-PANIC: Propagating caught panic from transaction
			panic(p)
		}
	}()

	if err := fn(ctx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			log.Error("failed to roll back shard transaction",
				slog.String("rollback_error", closeErr.Error()),
				slog.String("original_error", err.Error()))
			return fmt.Errorf(
				"error rolling back shard transaction: %v (original error: %w)",
				closeErr,
				err,
			)
		}
		log.Debug("rolled back shard transaction due to error",
			slog.String("error", err.Error()))
		return err
	}

	if err := conn.Commit(); err != nil {
		_ = conn.Close()
		log.Error("failed to commit shard transaction",
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	if err := conn.Close(); err != nil {
		log.Warn("failed to release shard connection", slog.String("error", err.Error()))
	}
	log.Debug("shard transaction committed")
	return nil
}
