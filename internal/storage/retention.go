package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/matview-io/matview/internal/config"
)

// Sentinel errors for run retention configuration.
var (
	// ErrConnectionNil is returned when a sweeper is constructed without a database connection.
	ErrConnectionNil = errors.New("database connection cannot be nil")

	// ErrInvalidSweepInterval is returned when an invalid sweep interval is provided.
	ErrInvalidSweepInterval = errors.New("sweep interval must be greater than zero")

	// ErrInvalidRetentionAge is returned when an invalid retention age is provided.
	ErrInvalidRetentionAge = errors.New("retention age must be greater than zero")
)

// Sweep configuration constants.
const (
	// sweepQueryTimeout is the maximum time allowed for a single retention sweep.
	sweepQueryTimeout = 30 * time.Second
	// sweepShutdownTimeout is the maximum time to wait for the sweeper goroutine to stop during Close().
	sweepShutdownTimeout = 5 * time.Second
	// sweepBatchSize is the maximum number of rows to delete per batch to avoid long-running locks.
	sweepBatchSize = 10000
	// sweepBatchSleep is the sleep time between batches so other queries can interleave.
	sweepBatchSleep = 100 * time.Millisecond
)

// RunRetention periodically deletes old terminal run records so view_runs
// does not grow without bound. A run is eligible once its finished_at is
// older than the configured retention age; running records have no
// finished_at and are never deleted regardless of age.
type RunRetention struct {
	conn     *Connection
	logger   *slog.Logger
	interval time.Duration
	maxAge   time.Duration

	sweepStop chan struct{} // Signal to stop the sweeper goroutine
	sweepDone chan struct{} // Signal the sweeper has stopped
	closeOnce sync.Once
}

// NewRunRetention starts a background sweeper over view_runs.
//
// Parameters:
//   - conn: Database connection (required, owned by the caller)
//   - interval: How often to sweep (e.g., 1 hour)
//   - maxAge: How long finished runs are kept (e.g., 720 hours)
//
// The sweeper goroutine starts immediately and stops gracefully on Close().
func NewRunRetention(conn *Connection, interval, maxAge time.Duration) (*RunRetention, error) {
	if conn == nil {
		return nil, ErrConnectionNil
	}

	if interval <= 0 {
		return nil, ErrInvalidSweepInterval
	}

	if maxAge <= 0 {
		return nil, ErrInvalidRetentionAge
	}

	r := &RunRetention{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("MATVIEW_LOG_LEVEL", slog.LevelInfo),
		})),
		interval:  interval,
		maxAge:    maxAge,
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	go r.run()

	r.logger.Info("Started run retention sweeper",
		slog.Duration("interval", interval),
		slog.Duration("max_age", maxAge))

	return r, nil
}

// Close stops the sweeper goroutine gracefully. Safe to call multiple
// times. The database connection is managed externally and stays open.
func (r *RunRetention) Close() error {
	r.closeOnce.Do(func() {
		close(r.sweepStop)

		select {
		case <-r.sweepDone:
			r.logger.Info("Run retention sweeper stopped gracefully")
		case <-time.After(sweepShutdownTimeout):
			r.logger.Warn("Run retention sweeper did not stop within timeout")
		}
	})

	return nil
}

// run ticks until the sweepStop channel is closed via Close(). Each tick
// runs one bounded sweep; sweep failures are logged without crashing the
// goroutine.
func (r *RunRetention) run() {
	defer close(r.sweepDone)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-r.sweepStop:
			cancel()
			r.logger.Info("Stopping run retention sweeper")

			return
		case <-ticker.C:
			sweepCtx, sweepCancel := context.WithTimeout(ctx, sweepQueryTimeout)
			r.sweep(sweepCtx)
			sweepCancel()
		}
	}
}

// sweep deletes terminal runs older than the retention cutoff, oldest
// first, in batches of sweepBatchSize to avoid long-running table locks.
// Loops until a batch comes back short, sleeping sweepBatchSleep between
// batches. Rows still running have NULL finished_at and never match the
// predicate.
func (r *RunRetention) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.maxAge)
	startTime := time.Now()
	totalDeleted := int64(0)
	batchCount := 0

	for {
		if ctx.Err() != nil {
			r.logger.Info("Retention sweep cancelled",
				slog.Int64("rows_deleted", totalDeleted),
				slog.Int("batches_completed", batchCount),
				slog.Duration("duration", time.Since(startTime)))

			return
		}

		// idx_view_runs_finished (migration 003) serves this lookup.
		query := `
			DELETE FROM view_runs
			WHERE id IN (
				SELECT id
				FROM view_runs
				WHERE finished_at < $1
				ORDER BY finished_at ASC
				LIMIT $2
			)
		`

		result, err := r.conn.ExecContext(ctx, query, cutoff, sweepBatchSize)
		if err != nil {
			r.logger.Error("Failed to delete expired run records",
				slog.String("error", err.Error()),
				slog.Int64("rows_deleted_before_error", totalDeleted),
				slog.Int("batches_completed", batchCount))

			return
		}

		rowsDeleted, err := result.RowsAffected()
		if err != nil {
			// DELETE succeeded but the row count is unavailable.
			r.logger.Warn("Retention batch completed but row count unavailable",
				slog.String("error", err.Error()),
				slog.Int64("rows_deleted_before_error", totalDeleted),
				slog.Int("batches_completed", batchCount))

			return
		}

		totalDeleted += rowsDeleted
		batchCount++

		// A short batch means no more expired rows remain.
		if rowsDeleted < sweepBatchSize {
			break
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Retention sweep cancelled between batches",
				slog.Int64("rows_deleted", totalDeleted),
				slog.Int("batches_completed", batchCount),
				slog.Duration("duration", time.Since(startTime)))

			return
		case <-time.After(sweepBatchSleep):
		}
	}

	duration := time.Since(startTime)

	if totalDeleted == 0 {
		r.logger.Debug("Retention sweep found nothing to delete",
			slog.Int("batches_completed", batchCount),
			slog.Duration("duration", duration))
	} else {
		r.logger.Info("Deleted expired run records",
			slog.Int64("rows_deleted", totalDeleted),
			slog.Int("batches_completed", batchCount),
			slog.Duration("duration", duration))
	}
}

// Compile-time interface check.
var _ io.Closer = (*RunRetention)(nil)
