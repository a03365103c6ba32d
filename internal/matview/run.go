package matview

import (
	"errors"
	"fmt"
	"time"
)

type (
	// OperationKind identifies the run-level operation recorded for a
	// definition. Refresh covers all three refresh strategies; the
	// strategy in effect is captured in the run's request echo.
	OperationKind string

	// RunStatus is the run record's state machine position.
	RunStatus string

	// RunMeta is the structured snapshot persisted with each run: the
	// normalized request and the operation's response payload.
	RunMeta struct {
		Request  Request `json:"request"`
		Response Result  `json:"response"`
	}

	// Run is one audit record per operation invocation. It is created in
	// RunStatusRunning immediately before the engine is invoked and
	// finalized on every path: success, caught error, or panic.
	Run struct {
		// ID is the storage-assigned UUID.
		ID string

		// DefinitionID references the definition operated on.
		DefinitionID string

		// Operation is the run-level operation kind.
		Operation OperationKind

		// Status moves running → success or running → failed, never further.
		Status RunStatus

		// StartedAt is when the wrapper created the record; FinishedAt is
		// set when the record is finalized.
		StartedAt  time.Time
		FinishedAt *time.Time

		// DurationMs is the wall-clock duration wrapping the engine call.
		DurationMs int64

		// Meta holds the request/response snapshot from the ServiceResponse.
		Meta RunMeta

		// Error is present only for failed runs.
		Error *ErrorDetail
	}
)

const (
	// OperationCreate creates a materialized view.
	OperationCreate OperationKind = "create"

	// OperationRefresh refreshes a materialized view under the
	// definition's strategy.
	OperationRefresh OperationKind = "refresh"

	// OperationDrop drops a materialized view.
	OperationDrop OperationKind = "drop"
)

const (
	// RunStatusRunning is the initial state, set before the engine runs.
	RunStatusRunning RunStatus = "running"

	// RunStatusSuccess is terminal: the operation returned a non-error response.
	RunStatusSuccess RunStatus = "success"

	// RunStatusFailed is terminal: the operation returned an error response.
	RunStatusFailed RunStatus = "failed"
)

// Run state transition errors (static sentinel errors for errors.Is() checks).
var (
	// ErrOperationInvalid indicates an unknown operation kind.
	ErrOperationInvalid = errors.New("operation must be one of: create, refresh, drop")

	// ErrRunStatusInvalid indicates an unknown run status.
	ErrRunStatusInvalid = errors.New("run status must be one of: running, success, failed")

	// ErrInvalidRunTransition indicates a disallowed status transition.
	ErrInvalidRunTransition = errors.New("invalid run status transition")

	// ErrRunTerminal indicates an attempt to transition out of a terminal status.
	ErrRunTerminal = errors.New("terminal run status is immutable")
)

// ValidOperations returns all valid operation kinds.
func ValidOperations() []OperationKind {
	return []OperationKind{OperationCreate, OperationRefresh, OperationDrop}
}

// String returns the string representation of OperationKind.
func (o OperationKind) String() string {
	return string(o)
}

// IsValid checks if the OperationKind is a valid enum value.
func (o OperationKind) IsValid() bool {
	switch o {
	case OperationCreate, OperationRefresh, OperationDrop:
		return true
	default:
		return false
	}
}

// String returns the string representation of RunStatus.
func (rs RunStatus) String() string {
	return string(rs)
}

// IsValid checks if the RunStatus is a valid enum value.
func (rs RunStatus) IsValid() bool {
	switch rs {
	case RunStatusRunning, RunStatusSuccess, RunStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for success and failed. Terminal runs are
// immutable in normal flow.
func (rs RunStatus) IsTerminal() bool {
	return rs == RunStatusSuccess || rs == RunStatusFailed
}

// ValidateRunTransition validates a run status transition.
//
// Valid transitions:
//   - running → success
//   - running → failed
//
// Everything else is rejected: terminal states never move (not even to
// themselves), and no state moves back to running.
func ValidateRunTransition(from, to RunStatus) error {
	if !from.IsValid() {
		return fmt.Errorf("%w: got %q", ErrRunStatusInvalid, from)
	}

	if !to.IsValid() {
		return fmt.Errorf("%w: got %q", ErrRunStatusInvalid, to)
	}

	if from.IsTerminal() {
		return fmt.Errorf("%w: %s → %s", ErrRunTerminal, from, to)
	}

	if from == RunStatusRunning && to.IsTerminal() {
		return nil
	}

	return fmt.Errorf("%w: %s → %s", ErrInvalidRunTransition, from, to)
}

// Finalize moves the run to a terminal status and stamps timing and
// outcome fields from the response. It validates the transition and
// enforces the failed-iff-error pairing with the response status.
func (r *Run) Finalize(resp *ServiceResponse, finishedAt time.Time) error {
	to := RunStatusSuccess
	if resp.Failed() {
		to = RunStatusFailed
	}

	if err := ValidateRunTransition(r.Status, to); err != nil {
		return err
	}

	r.Status = to
	r.FinishedAt = &finishedAt
	r.DurationMs = finishedAt.Sub(r.StartedAt).Milliseconds()
	r.Meta = RunMeta{Request: resp.Request, Response: resp.Response}
	r.Error = resp.Error

	return nil
}
