package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matview-io/matview/internal/matview"
)

// Job is the JSON envelope for one asynchronous view operation. It carries
// the operation kind, the target definition, and the caller options; the
// worker resolves the definition and executes through the run-record
// wrapper exactly as a synchronous caller would.
type Job struct {
	ID           string                   `json:"id"`
	Operation    matview.OperationKind    `json:"operation"`
	DefinitionID string                   `json:"definition_id"`
	Force        bool                     `json:"force,omitempty"`
	Cascade      bool                     `json:"cascade,omitempty"`
	RowCount     matview.RowCountStrategy `json:"row_count_strategy,omitempty"`
	Queue        string                   `json:"queue"`
	EnqueuedAt   time.Time                `json:"enqueued_at"`
}

// NewJob creates a job for the given operation and definition with a fresh
// ID and enqueue timestamp. Options are set on the returned job before
// enqueueing.
func NewJob(operation matview.OperationKind, definitionID string) *Job {
	return &Job{
		ID:           uuid.NewString(),
		Operation:    operation,
		DefinitionID: definitionID,
		EnqueuedAt:   time.Now().UTC(),
	}
}

// Validate checks that the job is well-formed enough to execute.
func (j *Job) Validate() error {
	if j == nil {
		return ErrJobNil
	}

	if j.ID == "" {
		return ErrJobIDEmpty
	}

	if !j.Operation.IsValid() {
		return fmt.Errorf("%w: %q", matview.ErrOperationInvalid, j.Operation)
	}

	if j.DefinitionID == "" {
		return ErrJobDefinitionIDEmpty
	}

	return nil
}

// Encode serializes the job for the wire.
func (j *Job) Encode() ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job %s: %w", j.ID, err)
	}

	return payload, nil
}

// DecodeJob deserializes and validates a job payload. Failures are wrapped
// in ErrJobDecode so consumers can distinguish poison messages from
// backend errors.
func DecodeJob(payload []byte) (*Job, error) {
	var job Job

	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJobDecode, err)
	}

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJobDecode, err)
	}

	return &job, nil
}
