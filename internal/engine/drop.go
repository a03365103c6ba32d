package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/matview-io/matview/internal/matview"
)

// DropOperation removes a materialized view. Dropping a view that does
// not exist is a skip, not an error, so retried teardown jobs stay
// idempotent. Without cascade the drop is RESTRICT and a dependent
// object blocks it; the resulting error tells the caller cascade would
// clear it.
type DropOperation struct {
	def  *matview.Definition
	opts matview.DropOptions
}

// NewDropOperation returns a drop operation for one definition. Options
// are normalized once here.
func NewDropOperation(def *matview.Definition, opts matview.DropOptions) *DropOperation {
	opts.RowCount = opts.RowCount.Normalize()

	return &DropOperation{
		def:  def,
		opts: opts,
	}
}

// Describe implements Operation.
func (o *DropOperation) Describe() matview.Request {
	return matview.Request{
		Operation: matview.OperationDrop,
		View:      o.def.Name,
		Strategy:  o.def.RefreshStrategy,
		Cascade:   o.opts.Cascade,
		RowCount:  o.opts.RowCount,
	}
}

// Prepare implements Operation. Drop has no preconditions: a missing
// view is handled as a skip during execute.
func (o *DropOperation) Prepare(_ context.Context, _ *Session) error {
	return nil
}

// Execute implements Operation. RowsBefore is measured while the view
// still exists; RowsAfter is always unknown since there is nothing left
// to count.
func (o *DropOperation) Execute(ctx context.Context, session *Session) (matview.Result, matview.Status, error) {
	schema, err := session.CurrentSchema(ctx)
	if err != nil {
		return matview.Result{}, "", err
	}

	result := matview.NewResult(schema + "." + o.def.Name)

	exists, err := session.ViewExists(ctx, o.def.Name)
	if err != nil {
		return result, "", err
	}

	if !exists {
		session.logger.Debug("Materialized view does not exist, skipping drop",
			slog.String("view", result.View))

		return result, matview.StatusSkipped, nil
	}

	result.RowsBefore, err = session.RowCount(ctx, o.opts.RowCount, o.def.Name)
	if err != nil {
		return result, "", err
	}

	if err := session.Exec(ctx, BuildDropMaterializedView(QualifiedName(schema, o.def.Name), o.opts.Cascade)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqCodeDependentObjectsStillExist {
			return result, "", fmt.Errorf("%w: %w (re-run with cascade to drop dependent objects too)", ErrDependentObjects, err)
		}

		return result, "", fmt.Errorf("%w: %w", ErrDropFailed, err)
	}

	return result, matview.StatusDeleted, nil
}
