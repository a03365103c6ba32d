package queue

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/matview-io/matview/internal/config"
)

// InProcess is the buffered-channel queue backend. Jobs never leave the
// process: the enqueuing goroutine and the worker share the channel. It is
// the default backend and the one tests run against.
//
// The backend never closes the job channel; Close signals the stop channel
// instead, so a concurrent Enqueue can fail cleanly rather than panic.
// Consume drains jobs that were already buffered before reporting
// ErrQueueClosed.
type InProcess struct {
	name     string
	jobs     chan *Job
	stop     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// Compile-time interface assertion.
var _ Backend = (*InProcess)(nil)

// NewInProcess creates an in-process queue backend with the given buffer
// capacity.
func NewInProcess(name string, buffer int, logger *slog.Logger) *InProcess {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("MATVIEW_LOG_LEVEL", slog.LevelInfo),
		}))
	}

	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	return &InProcess{
		name:   name,
		jobs:   make(chan *Job, buffer),
		stop:   make(chan struct{}),
		logger: logger,
	}
}

// Enqueue submits a job to the channel, blocking while the buffer is full.
func (q *InProcess) Enqueue(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	job.Queue = q.name

	select {
	case <-q.stop:
		return ErrQueueClosed
	default:
	}

	select {
	case q.jobs <- job:
		q.logger.Debug("job enqueued",
			slog.String("job_id", job.ID),
			slog.String("operation", job.Operation.String()),
			slog.String("definition_id", job.DefinitionID),
		)

		return nil
	case <-q.stop:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume blocks until a job is available. Buffered jobs are delivered
// even after Close; once the buffer is drained a closed queue reports
// ErrQueueClosed.
func (q *InProcess) Consume(ctx context.Context) (*Job, error) {
	// Drain buffered work first so Close never strands accepted jobs.
	select {
	case job := <-q.jobs:
		return job, nil
	default:
	}

	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.stop:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the queue. Safe to call more than once.
func (q *InProcess) Close() error {
	q.stopOnce.Do(func() {
		close(q.stop)
		q.logger.Debug("in-process queue closed", slog.String("queue", q.name))
	})

	return nil
}
