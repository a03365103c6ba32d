// Package queue provides the asynchronous job envelope and the pluggable
// queue backends that carry materialized view operations to the worker.
//
// Two backends exist: an in-process buffered channel (the default, also
// used by tests and embedded setups) and Kafka (the distributed path,
// where the enqueuing process and the worker daemon are different
// processes). The backend is selected once at configuration time; callers
// only ever see the Enqueuer and Consumer interfaces.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrQueueClosed is returned when enqueueing to or consuming from a
	// closed queue backend.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrBackendUnknown is returned when the configured backend kind is
	// not recognized.
	ErrBackendUnknown = errors.New("unknown queue backend")

	// ErrJobNil is returned when a nil job is enqueued.
	ErrJobNil = errors.New("job cannot be nil")

	// ErrJobIDEmpty is returned when a job has no identifier.
	ErrJobIDEmpty = errors.New("job id cannot be empty")

	// ErrJobDefinitionIDEmpty is returned when a job names no definition.
	ErrJobDefinitionIDEmpty = errors.New("job definition id cannot be empty")

	// ErrJobDecode is returned when a queue payload cannot be decoded into
	// a valid job. Consumers should log and skip the message rather than
	// stop consuming.
	ErrJobDecode = errors.New("job payload cannot be decoded")
)

type (
	// BackendKind identifies a queue backend implementation.
	BackendKind string

	// Enqueuer is the producing side of a job queue.
	Enqueuer interface {
		// Enqueue submits a job for asynchronous execution. The job is
		// validated and stamped with the queue name before it is handed to
		// the backend.
		Enqueue(ctx context.Context, job *Job) error
	}

	// Consumer is the consuming side of a job queue.
	Consumer interface {
		// Consume blocks until a job is available, the context is
		// cancelled, or the queue is closed. A decode failure is returned
		// wrapped in ErrJobDecode; the consumer remains usable afterwards.
		Consume(ctx context.Context) (*Job, error)

		// Close releases the backend resources. Consume calls unblock with
		// ErrQueueClosed once buffered jobs are drained.
		Close() error
	}

	// Backend is both ends of a job queue.
	Backend interface {
		Enqueuer
		Consumer
	}
)

const (
	// BackendInProcess is the buffered-channel backend. Enqueuer and
	// consumer must live in the same process.
	BackendInProcess BackendKind = "inprocess"

	// BackendKafka is the Kafka backend. Jobs are keyed by definition ID
	// so one definition's operations stay ordered within a partition.
	BackendKafka BackendKind = "kafka"
)

// ValidBackendKinds returns all recognized queue backend kinds.
func ValidBackendKinds() []BackendKind {
	return []BackendKind{BackendInProcess, BackendKafka}
}

// String returns the string representation of BackendKind.
func (b BackendKind) String() string {
	return string(b)
}

// IsValid checks if the BackendKind is a recognized value.
func (b BackendKind) IsValid() bool {
	switch b {
	case BackendInProcess, BackendKafka:
		return true
	default:
		return false
	}
}

// NewBackend constructs the queue backend selected by the config.
// The config must already be validated.
func NewBackend(cfg *Config, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case BackendInProcess:
		return NewInProcess(cfg.Name, cfg.BufferSize, logger), nil
	case BackendKafka:
		return NewKafka(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrBackendUnknown, cfg.Backend)
	}
}
