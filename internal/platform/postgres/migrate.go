package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// MigrationTableName is the goose version table created in every shard.
const MigrationTableName = "schema_migrations"

// Supported migration commands.
const (
	MigrateUp      = "up"
	MigrateDown    = "down"
	MigrateStatus  = "status"
	MigrateVersion = "version"
)

// ErrUnknownMigrationCommand is returned for a command Migrate does not support.
var ErrUnknownMigrationCommand = errors.New("unknown migration command")

// slogGooseLogger adapts the goose logger interface to use slog
type slogGooseLogger struct {
	logger *slog.Logger
}

// Printf implements the goose.Logger Printf method by forwarding messages to slog.Info
func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf implements the goose.Logger Fatalf method by forwarding error messages to slog.Error.
// It does not exit; the error is returned to the caller.
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

// Migrate runs a goose command against one shard database using the
// embedded migrations.
func Migrate(ctx context.Context, db *sql.DB, command string, logger *slog.Logger) error {
	var run func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error
	switch command {
	case MigrateUp:
		run = goose.UpContext
	case MigrateDown:
		run = goose.DownContext
	case MigrateStatus:
		run = func(ctx context.Context, db *sql.DB, dir string, _ ...goose.OptionsFunc) error {
			return goose.StatusContext(ctx, db, dir)
		}
	case MigrateVersion:
		run = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
			return goose.VersionContext(ctx, db, dir, opts...)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMigrationCommand, command)
	}

	if logger == nil {
		logger = slog.Default()
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(&slogGooseLogger{logger: logger})
	goose.SetTableName(MigrationTableName)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := run(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	return nil
}

// Migrate runs a goose command against every shard in ascending shard order
// and stops at the first failure.
func (p *ShardPool) Migrate(ctx context.Context, command string) error {
	for _, id := range p.ShardIDs() {
		log := p.logger.With(slog.Int("shard_id", id))
		log.Info("running migrations", slog.String("command", command))
		if err := Migrate(ctx, p.dbs[id], command, log); err != nil {
			return fmt.Errorf("shard %d: %w", id, err)
		}
	}
	return nil
}
