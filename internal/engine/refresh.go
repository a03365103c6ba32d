package engine

import (
	"context"
	"fmt"

	"github.com/matview-io/matview/internal/matview"
)

// RegularRefreshOperation repopulates a view with a blocking REFRESH
// MATERIALIZED VIEW. Readers wait while the refresh runs; the only
// precondition is that the view exists.
type RegularRefreshOperation struct {
	def  *matview.Definition
	opts matview.RefreshOptions
}

// NewRegularRefreshOperation returns a blocking refresh for one
// definition. Options are normalized once here.
func NewRegularRefreshOperation(def *matview.Definition, opts matview.RefreshOptions) *RegularRefreshOperation {
	opts.RowCount = opts.RowCount.Normalize()

	return &RegularRefreshOperation{
		def:  def,
		opts: opts,
	}
}

// Describe implements Operation.
func (o *RegularRefreshOperation) Describe() matview.Request {
	return matview.Request{
		Operation: matview.OperationRefresh,
		View:      o.def.Name,
		Strategy:  matview.RefreshStrategyRegular,
		RowCount:  o.opts.RowCount,
	}
}

// Prepare implements Operation.
func (o *RegularRefreshOperation) Prepare(ctx context.Context, session *Session) error {
	exists, err := session.ViewExists(ctx, o.def.Name)
	if err != nil {
		return err
	}

	if !exists {
		return fmt.Errorf("%w: %s", ErrViewNotFound, o.def.Name)
	}

	return nil
}

// Execute implements Operation.
func (o *RegularRefreshOperation) Execute(ctx context.Context, session *Session) (matview.Result, matview.Status, error) {
	schema, err := session.CurrentSchema(ctx)
	if err != nil {
		return matview.Result{}, "", err
	}

	result := matview.NewResult(schema + "." + o.def.Name)

	result.RowsBefore, err = session.RowCount(ctx, o.opts.RowCount, o.def.Name)
	if err != nil {
		return result, "", err
	}

	stmt := BuildRefreshMaterializedView(QualifiedName(schema, o.def.Name), false)
	if err := session.Exec(ctx, stmt); err != nil {
		return result, "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	result.RowsAfter, err = session.RowCount(ctx, o.opts.RowCount, o.def.Name)
	if err != nil {
		return result, "", err
	}

	return result, matview.StatusUpdated, nil
}
