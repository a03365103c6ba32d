package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matview-io/matview/internal/matview"
)

// CreateOperation materializes a view definition: CREATE MATERIALIZED
// VIEW ... WITH DATA, plus the unique index when the definition refreshes
// concurrently. An existing view is left untouched unless force is set,
// in which case it is dropped and rebuilt.
type CreateOperation struct {
	def  *matview.Definition
	opts matview.CreateOptions
}

// NewCreateOperation returns a create operation for one definition.
func NewCreateOperation(def *matview.Definition, opts matview.CreateOptions) *CreateOperation {
	return &CreateOperation{
		def:  def,
		opts: opts,
	}
}

// Describe implements Operation.
func (o *CreateOperation) Describe() matview.Request {
	return matview.Request{
		Operation: matview.OperationCreate,
		View:      o.def.Name,
		Strategy:  o.def.RefreshStrategy,
		Force:     o.opts.Force,
	}
}

// Prepare implements Operation. Create has no database preconditions;
// the definition itself must be valid before any DDL is derived from it.
func (o *CreateOperation) Prepare(_ context.Context, _ *Session) error {
	return o.def.Validate()
}

// Execute implements Operation.
func (o *CreateOperation) Execute(ctx context.Context, session *Session) (matview.Result, matview.Status, error) {
	schema, err := session.CurrentSchema(ctx)
	if err != nil {
		return matview.Result{}, "", err
	}

	result := matview.NewResult(schema + "." + o.def.Name)
	qualified := QualifiedName(schema, o.def.Name)

	exists, err := session.ViewExists(ctx, o.def.Name)
	if err != nil {
		return result, "", err
	}

	if exists && !o.opts.Force {
		session.logger.Debug("Materialized view already exists, skipping create",
			slog.String("view", result.View))

		return result, matview.StatusSkipped, nil
	}

	if exists {
		// Force rebuild drops with RESTRICT: replacing a view other
		// objects depend on should fail loudly, not silently take the
		// dependents with it.
		if err := session.Exec(ctx, BuildDropMaterializedView(qualified, false)); err != nil {
			return result, "", fmt.Errorf("%w: %w", ErrDropFailed, err)
		}
	}

	if err := session.Exec(ctx, BuildCreateMaterializedView(qualified, o.def.SQL)); err != nil {
		return result, "", fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}

	if o.def.RefreshStrategy == matview.RefreshStrategyConcurrent {
		indexName := UniqueIndexName(schema, o.def.Name, o.def.UniqueIndexColumns)

		// CONCURRENTLY cannot run inside a transaction; fall back to a
		// blocking build when the connection is not idle.
		stmt := BuildCreateUniqueIndex(indexName, qualified, o.def.UniqueIndexColumns, session.ConnectionIdle())
		if err := session.Exec(ctx, stmt); err != nil {
			return result, "", fmt.Errorf("%w: %w", ErrIndexCreateFailed, err)
		}

		result.CreatedIndexes = []string{indexName}
	}

	return result, matview.StatusCreated, nil
}
