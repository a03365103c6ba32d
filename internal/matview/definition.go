// Package matview provides the domain model for materialized view
// lifecycle management: view definitions, operation outcomes, and the
// run audit records that wrap every engine invocation.
package matview

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

type (
	// Definition describes one managed materialized view: the query that
	// materializes it, how it is refreshed, and which columns carry the
	// unique index required by concurrent refreshes.
	//
	// A Definition is immutable for the duration of a single operation;
	// operations read it but never mutate it. Definitions are created and
	// edited by the management layer (manifest sync or CLI) and destroying
	// one cascades to its Run records.
	Definition struct {
		// ID is the storage-assigned UUID.
		ID string

		// Name is the materialized view's relation name, globally unique.
		// Must match identifierPattern so it is always safe to quote.
		Name string

		// SQL is the defining query. Must begin with SELECT after trimming
		// leading whitespace (case-insensitive).
		SQL string

		// RefreshStrategy selects how refreshes rebuild the view.
		RefreshStrategy RefreshStrategy

		// UniqueIndexColumns are the ordered column names for the unique
		// index. Required non-empty for the concurrent strategy, optional
		// for swap (the index is recreated after each swap when present).
		UniqueIndexColumns []string

		// Dependencies lists other view names this one reads from.
		// Informational only; never enforced in SQL.
		Dependencies []string

		// Schedule is an optional cron expression. It is stored for the
		// scheduling layer and never interpreted here.
		Schedule string

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// RefreshStrategy selects the refresh mode for a definition.
	RefreshStrategy string
)

const (
	// RefreshStrategyRegular refreshes in place. Takes PostgreSQL's
	// exclusive lock and blocks readers for the duration.
	RefreshStrategyRegular RefreshStrategy = "regular"

	// RefreshStrategyConcurrent refreshes without blocking readers.
	// Requires a unique index on the view.
	RefreshStrategyConcurrent RefreshStrategy = "concurrent"

	// RefreshStrategySwap rebuilds under a temporary name and renames the
	// replacement into place inside one transaction.
	RefreshStrategySwap RefreshStrategy = "swap"
)

// maxViewNameLength caps view names at 50 characters so the swap
// strategy's "_new_<hex>" and "_old_<hex>" suffixes stay inside
// PostgreSQL's 63-byte identifier limit without silent truncation.
const maxViewNameLength = 50

// identifierPattern is the safe unquoted-identifier shape accepted for
// view names and index columns.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// selectPattern matches a defining query that begins with SELECT.
var selectPattern = regexp.MustCompile(`(?i)^select\b`)

// Definition validation errors (static sentinel errors for errors.Is() checks).
var (
	// ErrViewNameEmpty indicates name is required.
	ErrViewNameEmpty = errors.New("view name cannot be empty")

	// ErrViewNameInvalid indicates name is not a safe identifier.
	ErrViewNameInvalid = errors.New("view name must match ^[A-Za-z_][A-Za-z0-9_]*$")

	// ErrViewNameTooLong indicates name exceeds maxViewNameLength.
	ErrViewNameTooLong = errors.New("view name cannot exceed 50 characters")

	// ErrViewSQLEmpty indicates sql is required.
	ErrViewSQLEmpty = errors.New("view sql cannot be empty")

	// ErrViewSQLNotSelect indicates sql does not begin with SELECT.
	ErrViewSQLNotSelect = errors.New("view sql must begin with SELECT")

	// ErrRefreshStrategyInvalid indicates an unknown refresh strategy.
	ErrRefreshStrategyInvalid = errors.New("refresh strategy must be one of: regular, concurrent, swap")

	// ErrUniqueIndexColumnsRequired indicates the concurrent strategy was
	// declared without unique index columns.
	ErrUniqueIndexColumnsRequired = errors.New("concurrent refresh strategy requires unique_index_columns")

	// ErrIndexColumnInvalid indicates a unique index column is not a safe identifier.
	ErrIndexColumnInvalid = errors.New("unique index column must match ^[A-Za-z_][A-Za-z0-9_]*$")
)

// ValidRefreshStrategies returns all supported refresh strategies.
func ValidRefreshStrategies() []RefreshStrategy {
	return []RefreshStrategy{
		RefreshStrategyRegular,
		RefreshStrategyConcurrent,
		RefreshStrategySwap,
	}
}

// String returns the string representation of RefreshStrategy.
func (rs RefreshStrategy) String() string {
	return string(rs)
}

// IsValid checks if the RefreshStrategy is a supported value.
func (rs RefreshStrategy) IsValid() bool {
	switch rs {
	case RefreshStrategyRegular, RefreshStrategyConcurrent, RefreshStrategySwap:
		return true
	default:
		return false
	}
}

// Validate performs domain validation on the Definition.
//
// Validation rules:
//   - name: required, safe identifier shape, ≤50 chars
//   - sql: required, begins with SELECT (case-insensitive, leading whitespace ignored)
//   - refresh_strategy: must be a supported value
//   - unique_index_columns: non-empty when strategy is concurrent; every
//     column must itself be a safe identifier
//
// Database-level failures (the view's query referencing missing tables,
// permission errors) surface later, during execution.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrViewNameEmpty
	}

	if !identifierPattern.MatchString(d.Name) {
		return fmt.Errorf("%w: got %q", ErrViewNameInvalid, d.Name)
	}

	if len(d.Name) > maxViewNameLength {
		return fmt.Errorf("%w: got %d characters", ErrViewNameTooLong, len(d.Name))
	}

	if strings.TrimSpace(d.SQL) == "" {
		return ErrViewSQLEmpty
	}

	if !selectPattern.MatchString(strings.TrimSpace(d.SQL)) {
		return fmt.Errorf("%w: got %q", ErrViewSQLNotSelect, truncateForError(d.SQL))
	}

	if !d.RefreshStrategy.IsValid() {
		return fmt.Errorf("%w: got %q", ErrRefreshStrategyInvalid, d.RefreshStrategy)
	}

	if d.RefreshStrategy == RefreshStrategyConcurrent && len(d.UniqueIndexColumns) == 0 {
		return fmt.Errorf("%w: view %q", ErrUniqueIndexColumnsRequired, d.Name)
	}

	for _, col := range d.UniqueIndexColumns {
		if !identifierPattern.MatchString(col) {
			return fmt.Errorf("%w: got %q", ErrIndexColumnInvalid, col)
		}
	}

	return nil
}

// truncateForError shortens a SQL body for inclusion in an error message.
func truncateForError(sql string) string {
	const maxLen = 40

	trimmed := strings.TrimSpace(sql)
	if len(trimmed) <= maxLen {
		return trimmed
	}

	return trimmed[:maxLen] + "..."
}
