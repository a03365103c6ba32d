// Package runner wraps the engine with run-record auditing and hosts the
// queue worker. Every operation, synchronous CLI call or consumed job,
// goes through the same path: create the audit run, drive the engine,
// finalize the run, then hand the outcome back. The engine never raises;
// the runner is where a failed response becomes a returned error again
// for initiators that need one.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/matview-io/matview/internal/config"
	"github.com/matview-io/matview/internal/engine"
	"github.com/matview-io/matview/internal/matview"
	"github.com/matview-io/matview/internal/metrics"
	"github.com/matview-io/matview/internal/queue"
)

var (
	// ErrConnNil is returned when the runner is constructed without a
	// database connection.
	ErrConnNil = errors.New("database connection cannot be nil")

	// ErrDefinitionStoreNil is returned when the runner is constructed
	// without a definition store.
	ErrDefinitionStoreNil = errors.New("definition store cannot be nil")

	// ErrRunStoreNil is returned when the runner is constructed without a
	// run store.
	ErrRunStoreNil = errors.New("run store cannot be nil")

	// ErrOperationFailed wraps the failure carried by an error response.
	// The terminal run record is always persisted before this is returned.
	ErrOperationFailed = errors.New("view operation failed")

	// ErrAuditCreateFailed is returned when the running audit record
	// cannot be created. The operation is aborted: DDL never executes
	// without its audit trail.
	ErrAuditCreateFailed = errors.New("failed to create run record")
)

// Runner executes view operations with full run auditing.
type Runner struct {
	conn        engine.Conn
	definitions matview.DefinitionStore
	runs        matview.RunStore
	logger      *slog.Logger
}

// New creates a Runner. The logger falls back to a JSON logger on stdout
// when nil.
func New(
	conn engine.Conn,
	definitions matview.DefinitionStore,
	runs matview.RunStore,
	logger *slog.Logger,
) (*Runner, error) {
	if conn == nil {
		return nil, ErrConnNil
	}

	if definitions == nil {
		return nil, ErrDefinitionStoreNil
	}

	if runs == nil {
		return nil, ErrRunStoreNil
	}

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("MATVIEW_LOG_LEVEL", slog.LevelInfo),
		}))
	}

	return &Runner{
		conn:        conn,
		definitions: definitions,
		runs:        runs,
		logger:      logger,
	}, nil
}

// Create creates the materialized view for the definition.
func (r *Runner) Create(
	ctx context.Context,
	def *matview.Definition,
	opts matview.CreateOptions,
) (*matview.ServiceResponse, error) {
	return r.run(ctx, def, matview.OperationCreate, engine.NewCreateOperation(def, opts))
}

// Refresh refreshes the materialized view using the definition's
// configured strategy.
func (r *Runner) Refresh(
	ctx context.Context,
	def *matview.Definition,
	opts matview.RefreshOptions,
) (*matview.ServiceResponse, error) {
	return r.run(ctx, def, matview.OperationRefresh, refreshOperation(def, opts))
}

// Drop removes the materialized view for the definition.
func (r *Runner) Drop(
	ctx context.Context,
	def *matview.Definition,
	opts matview.DropOptions,
) (*matview.ServiceResponse, error) {
	return r.run(ctx, def, matview.OperationDrop, engine.NewDropOperation(def, opts))
}

// Execute resolves a queued job's definition and dispatches it to the
// matching operation. Jobs referencing a deleted definition fail with
// ErrDefinitionNotFound; no run record is written because there is no
// definition to attach it to.
func (r *Runner) Execute(ctx context.Context, job *queue.Job) (*matview.ServiceResponse, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	def, err := r.definitions.GetDefinition(ctx, job.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve job %s: %w", job.ID, err)
	}

	switch job.Operation {
	case matview.OperationCreate:
		return r.Create(ctx, def, matview.CreateOptions{Force: job.Force})
	case matview.OperationRefresh:
		return r.Refresh(ctx, def, matview.RefreshOptions{RowCount: job.RowCount})
	case matview.OperationDrop:
		return r.Drop(ctx, def, matview.DropOptions{Cascade: job.Cascade, RowCount: job.RowCount})
	default:
		// Unreachable after Validate; kept for the exhaustive switch.
		return nil, fmt.Errorf("%w: %q", matview.ErrOperationInvalid, job.Operation)
	}
}

// refreshOperation picks the engine operation for the definition's
// refresh strategy. Unknown strategies fall back to a regular refresh,
// whose Prepare rejects the invalid definition.
func refreshOperation(def *matview.Definition, opts matview.RefreshOptions) engine.Operation {
	switch def.RefreshStrategy {
	case matview.RefreshStrategyConcurrent:
		return engine.NewConcurrentRefreshOperation(def, opts)
	case matview.RefreshStrategySwap:
		return engine.NewSwapRefreshOperation(def, opts)
	default:
		return engine.NewRegularRefreshOperation(def, opts)
	}
}

// run drives one audited operation: running record first, engine second,
// terminal record third. A finalize failure is logged and counted but
// never masks the operation outcome.
func (r *Runner) run(
	ctx context.Context,
	def *matview.Definition,
	kind matview.OperationKind,
	op engine.Operation,
) (*matview.ServiceResponse, error) {
	if def == nil {
		return nil, matview.ErrDefinitionNil
	}

	record := &matview.Run{
		DefinitionID: def.ID,
		Operation:    kind,
	}

	if err := r.runs.CreateRun(ctx, record); err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrAuditCreateFailed, err)

		resp := matview.NewErrorResponse(op.Describe(), matview.ErrorDetail{
			Message: wrapped.Error(),
		})

		return resp, wrapped
	}

	resp := engine.Run(ctx, r.conn, r.logger, op)
	finishedAt := time.Now().UTC()

	if err := record.Finalize(resp, finishedAt); err != nil {
		// Only possible if the record left running state under us.
		r.logger.Error("run record refused terminal transition",
			slog.String("run_id", record.ID),
			slog.String("view_name", def.Name),
			slog.String("error", err.Error()),
		)
	} else if err := r.runs.FinalizeRun(ctx, record); err != nil {
		metrics.AuditFinalizeFailures.Inc()
		r.logger.Error("failed to finalize run record",
			slog.String("run_id", record.ID),
			slog.String("view_name", def.Name),
			slog.String("status", record.Status.String()),
			slog.String("error", err.Error()),
		)
	}

	metrics.RecordOperation(kind.String(), resp.Status.String(), finishedAt.Sub(record.StartedAt))

	if resp.Failed() {
		return resp, fmt.Errorf("%w: %s: %s", ErrOperationFailed, resp.Error.Class, resp.Error.Message)
	}

	return resp, nil
}
