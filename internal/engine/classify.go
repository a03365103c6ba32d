package engine

import (
	"errors"

	"github.com/lib/pq"

	"github.com/matview-io/matview/internal/matview"
)

// Engine precondition and execution errors.
var (
	// ErrViewNotFound indicates the target materialized view does not
	// exist in the resolved schema.
	ErrViewNotFound = errors.New("materialized view does not exist")

	// ErrUniqueIndexMissing indicates a concurrent refresh was requested
	// for a view with no unique index to drive it.
	ErrUniqueIndexMissing = errors.New("concurrent refresh requires a unique index on the view")

	// ErrDependentObjects indicates a drop was blocked by objects that
	// depend on the view.
	ErrDependentObjects = errors.New("dependent objects prevent dropping the view")

	// ErrCreateFailed indicates the CREATE MATERIALIZED VIEW statement failed.
	ErrCreateFailed = errors.New("materialized view create failed")

	// ErrRefreshFailed indicates the REFRESH MATERIALIZED VIEW statement failed.
	ErrRefreshFailed = errors.New("materialized view refresh failed")

	// ErrSwapFailed indicates the swap rebuild-and-rename sequence failed.
	ErrSwapFailed = errors.New("materialized view swap failed")

	// ErrDropFailed indicates the DROP MATERIALIZED VIEW statement failed.
	ErrDropFailed = errors.New("materialized view drop failed")

	// ErrIndexCreateFailed indicates the unique index statement failed.
	ErrIndexCreateFailed = errors.New("unique index create failed")

	// ErrCatalogQueryFailed indicates a pg_catalog lookup failed.
	ErrCatalogQueryFailed = errors.New("catalog query failed")

	// ErrSchemaResolution indicates the effective schema could not be
	// resolved from the connection's search_path.
	ErrSchemaResolution = errors.New("schema resolution failed")

	// ErrTokenGeneration indicates the random swap suffix could not be
	// generated.
	ErrTokenGeneration = errors.New("token generation failed")
)

// Kind is the failure classification recorded in an error response's
// class field. Initiators branch on it: contention is retryable,
// not_found and precondition point at setup, internal means a bug.
type Kind string

// Failure classifications.
const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindPrecondition Kind = "precondition"
	KindContention   Kind = "contention"
	KindDependency   Kind = "dependency"
	KindInternal     Kind = "internal"
)

// SQLSTATE values the engine distinguishes beyond plain failure.
const (
	// Class 55 (object not in prerequisite state) covers lock conflicts
	// such as 55P03 lock_not_available and 55006 object_in_use.
	pqClassObjectNotInPrerequisiteState = "55"

	// 2BP01: dependent_objects_still_exist, raised by RESTRICT drops.
	pqCodeDependentObjectsStillExist = "2BP01"

	// 42P01: undefined_table, raised when the view vanished between the
	// precondition check and the DDL.
	pqCodeUndefinedTable = "42P01"
)

// validationErrors are the definition-level failures surfaced by
// Definition.Validate. They classify as caller mistakes, not database
// state.
var validationErrors = []error{
	matview.ErrViewNameEmpty,
	matview.ErrViewNameInvalid,
	matview.ErrViewNameTooLong,
	matview.ErrViewSQLEmpty,
	matview.ErrViewSQLNotSelect,
	matview.ErrRefreshStrategyInvalid,
	matview.ErrUniqueIndexColumnsRequired,
	matview.ErrIndexColumnInvalid,
}

// Classify maps an operation error to its response class. Sentinel
// matches win over SQLSTATE inspection so wrapped driver errors keep the
// classification their wrapping chose.
func Classify(err error) Kind {
	for _, verr := range validationErrors {
		if errors.Is(err, verr) {
			return KindValidation
		}
	}

	switch {
	case errors.Is(err, ErrViewNotFound):
		return KindNotFound
	case errors.Is(err, ErrUniqueIndexMissing):
		return KindPrecondition
	case errors.Is(err, ErrDependentObjects):
		return KindDependency
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == pqCodeDependentObjectsStillExist:
			return KindDependency
		case pqErr.Code == pqCodeUndefinedTable:
			return KindNotFound
		case pqErr.Code.Class() == pqClassObjectNotInPrerequisiteState:
			return KindContention
		}
	}

	return KindInternal
}
