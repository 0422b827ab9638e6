// Package postgres provides the PostgreSQL implementation of the shard
// access contract defined in the internal/store package. Each shard is a
// separate database holding the live and dumpster item tables; connections
// are opened through the pgx stdlib driver and every ShardConn is one
// database transaction.
package postgres
