package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"golang.org/x/time/rate"

	"github.com/matview-io/matview/internal/config"
	"github.com/matview-io/matview/internal/metrics"
	"github.com/matview-io/matview/internal/queue"
)

// ErrRunnerNil is returned when the worker is constructed without a runner.
var ErrRunnerNil = errors.New("runner cannot be nil")

// ErrConsumerNil is returned when the worker is constructed without a
// queue consumer.
var ErrConsumerNil = errors.New("queue consumer cannot be nil")

// Worker consumes queued jobs and executes them through the Runner. DDL
// bursts are throttled with a token bucket so a backed-up queue drains at
// a database-friendly pace.
type Worker struct {
	runner   *Runner
	consumer queue.Consumer
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewWorker creates a worker over the given consumer. The config must
// already be validated.
func NewWorker(r *Runner, consumer queue.Consumer, cfg *WorkerConfig, logger *slog.Logger) (*Worker, error) {
	if r == nil {
		return nil, ErrRunnerNil
	}

	if consumer == nil {
		return nil, ErrConsumerNil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("MATVIEW_LOG_LEVEL", slog.LevelInfo),
		}))
	}

	return &Worker{
		runner:   r,
		consumer: consumer,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:   logger,
	}, nil
}

// Run consumes jobs until the context is cancelled or the queue closes.
// A failed job is logged and consumption continues; the audit trail and
// metrics carry the failure. Returns nil on a clean queue close and the
// context error on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")

	for {
		job, err := w.consumer.Consume(ctx)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				w.logger.Info("worker stopping", slog.String("reason", err.Error()))

				return err
			case errors.Is(err, queue.ErrQueueClosed):
				w.logger.Info("worker stopping", slog.String("reason", "queue closed"))

				return nil
			case errors.Is(err, queue.ErrJobDecode):
				metrics.JobsSkipped.Inc()
				w.logger.Error("skipping undecodable job", slog.String("error", err.Error()))

				continue
			default:
				w.logger.Error("failed to consume job", slog.String("error", err.Error()))

				continue
			}
		}

		metrics.JobsConsumed.Inc()

		if err := w.limiter.Wait(ctx); err != nil {
			// Cancelled while throttled; the job is dropped with a trace.
			w.logger.Warn("worker cancelled before executing job",
				slog.String("job_id", job.ID),
				slog.String("definition_id", job.DefinitionID),
			)

			return err
		}

		w.execute(ctx, job)
	}
}

func (w *Worker) execute(ctx context.Context, job *queue.Job) {
	resp, err := w.runner.Execute(ctx, job)
	if err != nil {
		w.logger.Error("job failed",
			slog.String("job_id", job.ID),
			slog.String("operation", job.Operation.String()),
			slog.String("definition_id", job.DefinitionID),
			slog.String("error", err.Error()),
		)

		return
	}

	w.logger.Info("job completed",
		slog.String("job_id", job.ID),
		slog.String("operation", job.Operation.String()),
		slog.String("definition_id", job.DefinitionID),
		slog.String("status", resp.Status.String()),
		slog.String("view", resp.Response.View),
	)
}
