package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matview-io/matview/internal/matview"
)

// SwapRefreshOperation rebuilds a view under a shadow name and swaps it
// in with a pair of renames inside one transaction. Readers block only
// for the rename window, not the rebuild, and no unique index is needed.
// The trade-off is roughly double the disk while both copies exist.
type SwapRefreshOperation struct {
	def  *matview.Definition
	opts matview.RefreshOptions
}

// NewSwapRefreshOperation returns a swap refresh for one definition.
// Options are normalized once here.
func NewSwapRefreshOperation(def *matview.Definition, opts matview.RefreshOptions) *SwapRefreshOperation {
	opts.RowCount = opts.RowCount.Normalize()

	return &SwapRefreshOperation{
		def:  def,
		opts: opts,
	}
}

// Describe implements Operation.
func (o *SwapRefreshOperation) Describe() matview.Request {
	return matview.Request{
		Operation: matview.OperationRefresh,
		View:      o.def.Name,
		Strategy:  matview.RefreshStrategySwap,
		RowCount:  o.opts.RowCount,
	}
}

// Prepare implements Operation.
func (o *SwapRefreshOperation) Prepare(ctx context.Context, session *Session) error {
	exists, err := session.ViewExists(ctx, o.def.Name)
	if err != nil {
		return err
	}

	if !exists {
		return fmt.Errorf("%w: %s", ErrViewNotFound, o.def.Name)
	}

	return nil
}

// Execute implements Operation. The shadow build runs outside the
// transaction (it is the slow part and needs no lock on the live view);
// the rename/drop/index sequence commits atomically, so readers see
// either the old view or the fully indexed new one.
func (o *SwapRefreshOperation) Execute(ctx context.Context, session *Session) (matview.Result, matview.Status, error) {
	schema, err := session.CurrentSchema(ctx)
	if err != nil {
		return matview.Result{}, "", err
	}

	result := matview.NewResult(schema + "." + o.def.Name)

	result.RowsBefore, err = session.RowCount(ctx, o.opts.RowCount, o.def.Name)
	if err != nil {
		return result, "", err
	}

	suffix, err := randomSuffix()
	if err != nil {
		return result, "", err
	}

	shadowName := o.def.Name + "_new_" + suffix
	retiredName := o.def.Name + "_old_" + suffix

	qualified := QualifiedName(schema, o.def.Name)
	shadowQualified := QualifiedName(schema, shadowName)

	if err := session.Exec(ctx, BuildCreateMaterializedView(shadowQualified, o.def.SQL)); err != nil {
		return result, "", fmt.Errorf("%w: %w", ErrSwapFailed, err)
	}

	if err := o.swap(ctx, session, schema, qualified, shadowQualified, retiredName, &result); err != nil {
		o.dropShadow(ctx, session, shadowQualified)

		return result, "", fmt.Errorf("%w: %w", ErrSwapFailed, err)
	}

	result.RowsAfter, err = session.RowCount(ctx, o.opts.RowCount, o.def.Name)
	if err != nil {
		return result, "", err
	}

	return result, matview.StatusUpdated, nil
}

// swap runs the atomic rename sequence. The retired view is dropped
// before the unique index is recreated so the index name it still holds
// is free for the new live view.
func (o *SwapRefreshOperation) swap(
	ctx context.Context,
	session *Session,
	schema, qualified, shadowQualified, retiredName string,
	result *matview.Result,
) error {
	tx, err := session.Begin(ctx)
	if err != nil {
		return err
	}

	statements := []string{
		BuildRenameMaterializedView(qualified, retiredName),
		BuildRenameMaterializedView(shadowQualified, o.def.Name),
		BuildDropMaterializedView(QualifiedName(schema, retiredName), false),
	}

	if len(o.def.UniqueIndexColumns) > 0 {
		indexName := UniqueIndexName(schema, o.def.Name, o.def.UniqueIndexColumns)
		statements = append(statements, BuildCreateUniqueIndex(indexName, qualified, o.def.UniqueIndexColumns, false))
		result.CreatedIndexes = []string{indexName}
	}

	for _, stmt := range statements {
		if err := session.ExecTx(ctx, tx, stmt); err != nil {
			_ = tx.Rollback()

			return err
		}
	}

	return tx.Commit()
}

// dropShadow removes a leftover shadow view after a failed swap. Best
// effort: the swap error is what the caller reports, and an orphaned
// shadow is only wasted disk, not corruption.
func (o *SwapRefreshOperation) dropShadow(ctx context.Context, session *Session, shadowQualified string) {
	if _, err := session.conn.ExecContext(ctx, BuildDropMaterializedView(shadowQualified, false)); err != nil {
		session.logger.Warn("Failed to clean up shadow view after swap failure",
			slog.String("view", shadowQualified),
			slog.String("error", err.Error()))
	}
}
