package matview

import (
	"context"
	"errors"
)

// Store lookup errors (static sentinel errors for errors.Is() checks).
// Implementations return these so callers never branch on driver errors.
var (
	// ErrDefinitionNotFound indicates no definition matched the lookup.
	ErrDefinitionNotFound = errors.New("view definition not found")

	// ErrDefinitionExists indicates a definition with the same name already exists.
	ErrDefinitionExists = errors.New("view definition already exists")

	// ErrRunNotFound indicates no run record matched the lookup.
	ErrRunNotFound = errors.New("run record not found")

	// ErrDefinitionNil indicates a nil definition was passed to a store.
	ErrDefinitionNil = errors.New("definition cannot be nil")

	// ErrRunNil indicates a nil run was passed to a store.
	ErrRunNil = errors.New("run cannot be nil")
)

type (
	// DefinitionStore persists view definitions. Implementations live in
	// the storage package; the engine and runner depend only on this
	// interface.
	DefinitionStore interface {
		// CreateDefinition stores a new definition and assigns its ID.
		// Returns ErrDefinitionExists when the name is taken.
		CreateDefinition(ctx context.Context, def *Definition) error

		// UpdateDefinition replaces the mutable fields of an existing
		// definition. Returns ErrDefinitionNotFound when absent.
		UpdateDefinition(ctx context.Context, def *Definition) error

		// GetDefinition fetches a definition by ID.
		// Returns ErrDefinitionNotFound when absent.
		GetDefinition(ctx context.Context, id string) (*Definition, error)

		// GetDefinitionByName fetches a definition by its unique view name.
		// Returns ErrDefinitionNotFound when absent.
		GetDefinitionByName(ctx context.Context, name string) (*Definition, error)

		// ListDefinitions returns all definitions ordered by name.
		ListDefinitions(ctx context.Context) ([]*Definition, error)

		// DeleteDefinition removes a definition by ID. Run records cascade
		// at the database level. Returns ErrDefinitionNotFound when absent.
		DeleteDefinition(ctx context.Context, id string) error
	}

	// RunStore persists run audit records.
	RunStore interface {
		// CreateRun stores a new run in RunStatusRunning and assigns its ID.
		CreateRun(ctx context.Context, run *Run) error

		// FinalizeRun writes the terminal fields of a finalized run:
		// status, finished_at, duration, meta, and error.
		// Returns ErrRunNotFound when absent.
		FinalizeRun(ctx context.Context, run *Run) error

		// GetRun fetches a run by ID. Returns ErrRunNotFound when absent.
		GetRun(ctx context.Context, id string) (*Run, error)

		// ListRuns returns recent runs, newest first, optionally filtered
		// by definition ID ("" means all definitions).
		ListRuns(ctx context.Context, definitionID string, limit int) ([]*Run, error)
	}
)
