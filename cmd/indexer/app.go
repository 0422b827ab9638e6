package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/phrazzld/mailindex/internal/api"
	"github.com/phrazzld/mailindex/internal/api/middleware"
	"github.com/phrazzld/mailindex/internal/config"
	"github.com/phrazzld/mailindex/internal/indexing"
	"github.com/phrazzld/mailindex/internal/metrics"
	"github.com/phrazzld/mailindex/internal/platform/bleve"
	"github.com/phrazzld/mailindex/internal/platform/postgres"
	"github.com/phrazzld/mailindex/internal/queue"
	"github.com/phrazzld/mailindex/internal/reindex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// application holds the wired components of the indexer process.
type application struct {
	config *config.Config
	logger *slog.Logger
	addr   string

	shards   *postgres.ShardPool
	index    *bleve.Store
	queue    *queue.LocalAdapter
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	indexing *indexing.Service
	reindex  *reindex.Driver
	router   http.Handler

	// ready is set once the HTTP listener is bound to boundAddr
	ready     atomic.Bool
	boundAddr string
}

// newApplication wires every component around an opened shard pool. The
// application owns the pool from here on and closes it in cleanup.
func newApplication(cfg *config.Config, logger *slog.Logger, shards *postgres.ShardPool) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		addr:   fmt.Sprintf(":%d", cfg.Server.Port),
		shards: shards,
	}

	auth, err := middleware.NewAdminAuth(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize admin auth: %w", err)
	}

	idx, err := bleve.Open(cfg.Index, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}
	app.index = idx

	app.queue = queue.Shared(cfg.Queue.Capacity, logger)

	app.metrics = metrics.New()
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewQueueCollector(app.queue),
	)
	if err := app.metrics.Register(app.registry); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	indexingCfg, err := indexing.ConfigFromApp(cfg)
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("invalid indexing configuration: %w", err)
	}
	app.indexing, err = indexing.NewService(indexingCfg, indexing.Deps{
		Queue:   app.queue,
		Index:   idx,
		Shards:  shards,
		Ready:   app.ready.Load,
		Metrics: app.metrics,
	}, logger)
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to create indexing service: %w", err)
	}
	logger.Info("indexing service initialized",
		"workers", app.indexing.WorkerCount(),
		"topology", cfg.Index.Topology,
		"backend", cfg.Index.Backend)

	app.reindex = reindex.NewDriver(app.queue, shards, reindex.ConfigFromApp(cfg.Reindex), app.metrics, logger)

	app.router = api.NewRouter(api.RouterDeps{
		Admin:    api.NewAdminHandler(app.reindex, app.queue, logger),
		Auth:     auth,
		Indexing: app.indexing.Running,
		Metrics:  promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}),
		Logger:   logger,
	})

	return app, nil
}

// run starts the indexing service and serves HTTP until ctx is cancelled,
// then shuts everything down.
func (app *application) run(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.addr)
	if err != nil {
		app.cleanup()
		return fmt.Errorf("failed to listen on %s: %w", app.addr, err)
	}

	server := &http.Server{
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := app.indexing.Start(); err != nil {
		_ = ln.Close()
		app.cleanup()
		return fmt.Errorf("failed to start indexing service: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.boundAddr = ln.Addr().String()
		app.logger.Info("Starting server", "addr", app.boundAddr)
		app.ready.Store(true)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	err = g.Wait()
	app.cleanup()
	app.logger.Info("Server shutdown completed")
	return err
}

// cleanup stops background work and releases resources. Queued tasks stay
// in the process-wide queue.
func (app *application) cleanup() {
	app.ready.Store(false)
	app.reindex.Close()
	app.indexing.Stop()

	if err := app.index.Close(); err != nil {
		app.logger.Error("failed to close index store", "error", err)
	}
	if err := app.shards.Close(); err != nil {
		app.logger.Error("failed to close shard pool", "error", err)
	}
}
