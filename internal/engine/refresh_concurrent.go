package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matview-io/matview/internal/matview"
)

// ConcurrentRefreshOperation repopulates a view with REFRESH
// MATERIALIZED VIEW CONCURRENTLY, which keeps the view readable during
// the refresh. PostgreSQL requires a unique index on the view for the
// concurrent variant, so that becomes a precondition; a lock conflict
// with another in-flight refresh surfaces as a retryable contention
// error rather than a generic failure.
type ConcurrentRefreshOperation struct {
	def  *matview.Definition
	opts matview.RefreshOptions
}

// NewConcurrentRefreshOperation returns a concurrent refresh for one
// definition. Options are normalized once here.
func NewConcurrentRefreshOperation(def *matview.Definition, opts matview.RefreshOptions) *ConcurrentRefreshOperation {
	opts.RowCount = opts.RowCount.Normalize()

	return &ConcurrentRefreshOperation{
		def:  def,
		opts: opts,
	}
}

// Describe implements Operation.
func (o *ConcurrentRefreshOperation) Describe() matview.Request {
	return matview.Request{
		Operation: matview.OperationRefresh,
		View:      o.def.Name,
		Strategy:  matview.RefreshStrategyConcurrent,
		RowCount:  o.opts.RowCount,
	}
}

// Prepare implements Operation.
func (o *ConcurrentRefreshOperation) Prepare(ctx context.Context, session *Session) error {
	exists, err := session.ViewExists(ctx, o.def.Name)
	if err != nil {
		return err
	}

	if !exists {
		return fmt.Errorf("%w: %s", ErrViewNotFound, o.def.Name)
	}

	hasIndex, err := session.HasUniqueIndex(ctx, o.def.Name)
	if err != nil {
		return err
	}

	if !hasIndex {
		return fmt.Errorf("%w: %s", ErrUniqueIndexMissing, o.def.Name)
	}

	return nil
}

// Execute implements Operation.
func (o *ConcurrentRefreshOperation) Execute(ctx context.Context, session *Session) (matview.Result, matview.Status, error) {
	schema, err := session.CurrentSchema(ctx)
	if err != nil {
		return matview.Result{}, "", err
	}

	result := matview.NewResult(schema + "." + o.def.Name)

	result.RowsBefore, err = session.RowCount(ctx, o.opts.RowCount, o.def.Name)
	if err != nil {
		return result, "", err
	}

	concurrently := session.ConnectionIdle()
	if !concurrently {
		// CONCURRENTLY is forbidden inside a transaction; a blocking
		// refresh is still correct, just not lock-free.
		session.logger.Warn("Open transaction detected, falling back to blocking refresh",
			slog.String("view", result.View))
	}

	stmt := BuildRefreshMaterializedView(QualifiedName(schema, o.def.Name), concurrently)
	if err := session.Exec(ctx, stmt); err != nil {
		return result, "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	result.RowsAfter, err = session.RowCount(ctx, o.opts.RowCount, o.def.Name)
	if err != nil {
		return result, "", err
	}

	return result, matview.StatusUpdated, nil
}
