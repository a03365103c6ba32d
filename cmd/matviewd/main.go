// Package main provides the matview worker daemon.
//
// The daemon syncs declared view definitions from the manifest into the
// store, consumes lifecycle jobs from the queue, executes them against
// PostgreSQL, and serves health and Prometheus metrics over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/matview-io/matview/internal/api"
	"github.com/matview-io/matview/internal/config"
	"github.com/matview-io/matview/internal/manifest"
	"github.com/matview-io/matview/internal/queue"
	"github.com/matview-io/matview/internal/runner"
	"github.com/matview-io/matview/internal/storage"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "matviewd"
)

// Run record housekeeping defaults.
const (
	defaultRunCleanupInterval = time.Hour
	defaultRunRetention       = 30 * 24 * time.Hour
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting matview daemon",
		slog.String("service", name),
		slog.String("version", version),
	)

	storageConfig := storage.LoadConfig()

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = conn.Close() // Ensure connection closes on normal shutdown
	}()

	definitions := storage.NewPersistentDefinitionStore(conn)
	runs := storage.NewPersistentRunStore(conn)

	logger.Info("Stores initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	if config.GetEnvBool("MATVIEW_MANIFEST_SYNC", true) {
		m, err := manifest.LoadFromEnv(logger)
		if err != nil {
			logger.Error("Failed to load manifest", slog.String("error", err.Error()))

			_ = conn.Close()
			//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
			os.Exit(1)
		}

		result, err := m.Sync(context.Background(), definitions, logger)
		if err != nil {
			logger.Error("Manifest sync failed", slog.String("error", err.Error()))

			_ = conn.Close()
			os.Exit(1)
		}

		logger.Info("Manifest synced",
			slog.Int("created", result.Created),
			slog.Int("updated", result.Updated),
			slog.Int("unchanged", result.Unchanged),
		)
	} else {
		logger.Info("Manifest sync disabled")
	}

	queueConfig := queue.LoadConfig()

	backend, err := queue.NewBackend(queueConfig, logger)
	if err != nil {
		logger.Error("Failed to initialize queue backend", slog.String("error", err.Error()))

		_ = conn.Close()
		os.Exit(1)
	}

	logger.Info("Queue backend initialized", slog.String("queue", queueConfig.String()))

	jobRunner, err := runner.New(conn, definitions, runs, logger)
	if err != nil {
		logger.Error("Failed to initialize runner", slog.String("error", err.Error()))

		_ = backend.Close()
		_ = conn.Close()
		os.Exit(1)
	}

	workerConfig := runner.LoadWorkerConfig()

	worker, err := runner.NewWorker(jobRunner, backend, workerConfig, logger)
	if err != nil {
		logger.Error("Failed to initialize worker", slog.String("error", err.Error()))

		_ = backend.Close()
		_ = conn.Close()
		os.Exit(1)
	}

	logger.Info("Worker initialized", slog.String("limits", workerConfig.String()))

	// Background retention keeps view_runs bounded. Setting
	// MATVIEW_RUN_RETENTION to 0 disables the sweeper entirely.
	var retention *storage.RunRetention

	retentionAge := config.GetEnvDuration("MATVIEW_RUN_RETENTION", defaultRunRetention)
	if retentionAge > 0 {
		retention, err = storage.NewRunRetention(
			conn,
			config.GetEnvDuration("MATVIEW_RUN_CLEANUP_INTERVAL", defaultRunCleanupInterval),
			retentionAge,
		)
		if err != nil {
			logger.Error("Failed to start run retention", slog.String("error", err.Error()))

			_ = backend.Close()
			_ = conn.Close()
			os.Exit(1)
		}
	} else {
		logger.Info("Run retention disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerDone := make(chan error, 1)

	go func() {
		workerDone <- worker.Run(ctx)
	}()

	// The queue backend is handed to the server as a closer: shutdown
	// stops HTTP first, then closes the queue, which lets the worker
	// finish its current job and exit. The retention sweeper stops last.
	closers := []io.Closer{backend}
	if retention != nil {
		closers = append(closers, retention)
	}

	server := api.NewServer(serverConfig, conn, closers...)

	if err := server.Start(); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		cancel()

		if retention != nil {
			_ = retention.Close()
		}

		_ = backend.Close()
		_ = conn.Close()
		os.Exit(1)
	}

	// Server is down and the queue is closed. Give in-flight work the
	// shutdown window to drain before cancelling it.
	select {
	case err := <-workerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Worker stopped with error", slog.String("error", err.Error()))
		}
	case <-time.After(serverConfig.ShutdownTimeout):
		logger.Warn("Worker still busy after shutdown timeout, cancelling in-flight work")
		cancel()

		if err := <-workerDone; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Worker stopped with error", slog.String("error", err.Error()))
		}
	}

	logger.Info("matview daemon stopped")
}
