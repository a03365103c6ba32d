package matview

import (
	"errors"
	"fmt"
)

type (
	// Status is the outcome of one engine operation.
	Status string

	// Request is the normalized echo of the options an operation was
	// invoked with. It is recorded in the run audit meta so an operator
	// can see exactly what was asked for, independent of code defaults.
	Request struct {
		// Operation is the run-level operation kind (create, refresh, drop).
		Operation OperationKind `json:"operation"`

		// View is the definition's view name as requested (unqualified).
		View string `json:"view"`

		// Strategy is the definition's refresh strategy (regular,
		// concurrent, swap).
		Strategy RefreshStrategy `json:"strategy,omitempty"`

		// Force indicates an existing view is dropped and recreated.
		Force bool `json:"force,omitempty"`

		// Cascade indicates dependent objects are dropped too.
		Cascade bool `json:"cascade,omitempty"`

		// RowCount is the row counting strategy in effect.
		RowCount RowCountStrategy `json:"row_count_strategy,omitempty"`
	}

	// Result is the operation-specific response payload.
	Result struct {
		// View is the fully qualified, resolved view name ("schema.rel").
		View string `json:"view,omitempty"`

		// Statements lists the DDL statements executed, in order. Catalog
		// lookups and row counting queries are not included.
		Statements []string `json:"statements,omitempty"`

		// RowsBefore and RowsAfter are measured per the row counting
		// strategy. RowCountUnknown when not measured.
		RowsBefore int64 `json:"rows_before"`
		RowsAfter  int64 `json:"rows_after"`

		// CreatedIndexes lists unique index names created by the operation.
		// Empty when no index work was performed.
		CreatedIndexes []string `json:"created_indexes,omitempty"`
	}

	// ErrorDetail is the serialized failure shape carried by error
	// responses and failed run records. Callers branch on Class, never on
	// driver error types.
	ErrorDetail struct {
		// Class is the normalized error kind (validation, not_found,
		// precondition, contention, dependency, internal).
		Class string `json:"class"`

		// Message is the human-readable failure description.
		Message string `json:"message"`

		// Backtrace is the captured stack, split into lines. Populated for
		// panics and internal errors; empty for expected failure kinds.
		Backtrace []string `json:"backtrace,omitempty"`
	}

	// ServiceResponse is the immutable outcome of one operation: status,
	// request echo, response payload, and the serialized error when the
	// operation failed.
	ServiceResponse struct {
		Status   Status       `json:"status"`
		Request  Request      `json:"request"`
		Response Result       `json:"response"`
		Error    *ErrorDetail `json:"error,omitempty"`
	}
)

const (
	// StatusOK indicates generic success with no state change to report.
	StatusOK Status = "ok"

	// StatusCreated indicates a materialized view was created.
	StatusCreated Status = "created"

	// StatusUpdated indicates a materialized view was refreshed.
	StatusUpdated Status = "updated"

	// StatusSkipped indicates a deliberate no-op (create against an
	// existing view without force, drop against a missing view).
	StatusSkipped Status = "skipped"

	// StatusDeleted indicates a materialized view was dropped.
	StatusDeleted Status = "deleted"

	// StatusError indicates the operation failed. Error responses always
	// carry an ErrorDetail.
	StatusError Status = "error"
)

// RowCountUnknown is the sentinel reported when a row count was not
// measured: the strategy is none, the count is not applicable, or the
// catalog estimate was unavailable.
const RowCountUnknown int64 = -1

// ServiceResponse construction errors.
var (
	// ErrStatusInvalid indicates an unknown response status.
	ErrStatusInvalid = errors.New("status must be one of: ok, created, updated, skipped, deleted, error")

	// ErrStatusErrorPairing indicates a status/error mismatch: an error
	// response without detail, or a success response carrying one.
	ErrStatusErrorPairing = errors.New("error detail must be present iff status is error")
)

// ValidStatuses returns all valid response statuses.
func ValidStatuses() []Status {
	return []Status{
		StatusOK,
		StatusCreated,
		StatusUpdated,
		StatusSkipped,
		StatusDeleted,
		StatusError,
	}
}

// String returns the string representation of Status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks if the Status is a valid enum value.
func (s Status) IsValid() bool {
	switch s {
	case StatusOK, StatusCreated, StatusUpdated, StatusSkipped, StatusDeleted, StatusError:
		return true
	default:
		return false
	}
}

// NewResult returns a Result for the named view with both row counts set
// to the unknown sentinel, so operations that never measure cannot leak a
// zero that looks like an empty view.
func NewResult(view string) Result {
	return Result{
		View:       view,
		RowsBefore: RowCountUnknown,
		RowsAfter:  RowCountUnknown,
	}
}

// NewResponse constructs a success response. The status/error pairing
// invariant is enforced here: StatusError is rejected (use
// NewErrorResponse), as is any unknown status.
func NewResponse(status Status, req Request, result Result) (*ServiceResponse, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: got %q", ErrStatusInvalid, status)
	}

	if status == StatusError {
		return nil, fmt.Errorf("%w: success constructor called with status error", ErrStatusErrorPairing)
	}

	return &ServiceResponse{
		Status:   status,
		Request:  req,
		Response: result,
	}, nil
}

// NewErrorResponse constructs a failure response. The detail is required;
// this is the only way to build a response with StatusError, which keeps
// the pairing invariant by construction.
func NewErrorResponse(req Request, detail ErrorDetail) *ServiceResponse {
	if detail.Class == "" {
		detail.Class = "internal"
	}

	return &ServiceResponse{
		Status:  StatusError,
		Request: req,
		Error:   &detail,
	}
}

// OK reports whether the operation succeeded (any non-error status).
func (r *ServiceResponse) OK() bool {
	return r.Status != StatusError
}

// Failed reports whether the operation failed.
func (r *ServiceResponse) Failed() bool {
	return r.Status == StatusError
}

// ErrorMessage returns the failure message, or "" for success responses.
func (r *ServiceResponse) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}

	return r.Error.Message
}
