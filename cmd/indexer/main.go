// Package main implements the indexer binary: the asynchronous mailbox
// indexing service with its admin API, plus schema migration and admin
// token tooling.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phrazzld/mailindex/internal/api/middleware"
	"github.com/phrazzld/mailindex/internal/config"
	"github.com/phrazzld/mailindex/internal/platform/logger"
	"github.com/phrazzld/mailindex/internal/platform/postgres"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Asynchronous full-text indexing for mailbox items",
		Version:      fmt.Sprintf("%s (built %s)", version, buildTime),
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(), newMigrateCmd(), newTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the indexing service and admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	log.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"shards", len(cfg.Database.ShardURLs()))

	shards, err := postgres.OpenShardPool(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to open shard pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = shards.Ping(pingCtx)
	cancel()
	if err != nil {
		_ = shards.Close()
		return fmt.Errorf("failed to reach shard databases: %w", err)
	}

	app, err := newApplication(cfg, log, shards)
	if err != nil {
		_ = shards.Close()
		return err
	}
	return app.run(ctx)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version]",
		Short:     "Run schema migrations against every configured shard",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{postgres.MigrateUp, postgres.MigrateDown, postgres.MigrateStatus, postgres.MigrateVersion},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			log, err := logger.Setup(cfg.Server)
			if err != nil {
				return fmt.Errorf("failed to set up logger: %w", err)
			}

			shards, err := postgres.OpenShardPool(cfg.Database, log)
			if err != nil {
				return fmt.Errorf("failed to open shard pool: %w", err)
			}
			defer func() { _ = shards.Close() }()

			return shards.Migrate(cmd.Context(), args[0])
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an admin API token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return printToken(cmd.OutOrStdout(), cfg.Auth.JWTSecret, subject, ttl)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject recorded in admin logs")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func printToken(w io.Writer, secret, subject string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	auth, err := middleware.NewAdminAuth(secret)
	if err != nil {
		return err
	}
	token, err := auth.IssueToken(subject, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
