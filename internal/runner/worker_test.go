package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/matview-io/matview/internal/matview"
	"github.com/matview-io/matview/internal/metrics"
	"github.com/matview-io/matview/internal/queue"
)

func testWorkerConfig() *WorkerConfig {
	return &WorkerConfig{RatePerSecond: 1000, Burst: 1000}
}

func TestNewWorkerValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h := newTestHarness(t)
	q := queue.NewInProcess("matview_jobs", 4, nil)

	defer func() { _ = q.Close() }()

	if _, err := NewWorker(nil, q, testWorkerConfig(), nil); !errors.Is(err, ErrRunnerNil) {
		t.Errorf("expected ErrRunnerNil, got %v", err)
	}

	if _, err := NewWorker(h.runner, nil, testWorkerConfig(), nil); !errors.Is(err, ErrConsumerNil) {
		t.Errorf("expected ErrConsumerNil, got %v", err)
	}

	if _, err := NewWorker(h.runner, q, &WorkerConfig{RatePerSecond: 0, Burst: 1}, nil); !errors.Is(err, ErrWorkerRateInvalid) {
		t.Errorf("expected ErrWorkerRateInvalid, got %v", err)
	}

	if _, err := NewWorker(h.runner, q, &WorkerConfig{RatePerSecond: 1, Burst: 0}, nil); !errors.Is(err, ErrWorkerBurstInvalid) {
		t.Errorf("expected ErrWorkerBurstInvalid, got %v", err)
	}
}

func TestWorkerExecutesQueuedJobs(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h := newTestHarness(t)
	q := queue.NewInProcess("matview_jobs", 4, nil)

	if err := q.Enqueue(t.Context(), queue.NewJob(matview.OperationCreate, h.def.ID)); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	// Closing after enqueue makes Run drain the buffered job and then
	// stop cleanly, so the whole test is synchronous.
	if err := q.Close(); err != nil {
		t.Fatalf("failed to close queue: %v", err)
	}

	w, err := NewWorker(h.runner, q, testWorkerConfig(), testLogger())
	if err != nil {
		t.Fatalf("failed to build worker: %v", err)
	}

	if err := w.Run(t.Context()); err != nil {
		t.Fatalf("expected clean stop on closed queue, got %v", err)
	}

	runs, err := h.runs.ListRuns(t.Context(), h.def.ID, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}

	if len(runs) != 1 {
		t.Fatalf("expected 1 run record, got %d", len(runs))
	}

	if runs[0].Status != matview.RunStatusSuccess {
		t.Errorf("expected success run, got %q", runs[0].Status)
	}

	if runs[0].Operation != matview.OperationCreate {
		t.Errorf("expected create run, got %q", runs[0].Operation)
	}
}

func TestWorkerContinuesPastFailedJobs(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h := newTestHarness(t)
	q := queue.NewInProcess("matview_jobs", 4, nil)

	// The view does not exist yet, so the refresh fails; the create after
	// it must still execute.
	if err := q.Enqueue(t.Context(), queue.NewJob(matview.OperationRefresh, h.def.ID)); err != nil {
		t.Fatalf("failed to enqueue refresh: %v", err)
	}

	if err := q.Enqueue(t.Context(), queue.NewJob(matview.OperationCreate, h.def.ID)); err != nil {
		t.Fatalf("failed to enqueue create: %v", err)
	}

	if err := q.Close(); err != nil {
		t.Fatalf("failed to close queue: %v", err)
	}

	w, err := NewWorker(h.runner, q, testWorkerConfig(), testLogger())
	if err != nil {
		t.Fatalf("failed to build worker: %v", err)
	}

	if err := w.Run(t.Context()); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}

	runs, err := h.runs.ListRuns(t.Context(), h.def.ID, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}

	if len(runs) != 2 {
		t.Fatalf("expected 2 run records, got %d", len(runs))
	}

	// Newest first: the create succeeded after the refresh failed.
	if runs[0].Status != matview.RunStatusSuccess || runs[0].Operation != matview.OperationCreate {
		t.Errorf("expected newest run to be the successful create, got %s/%s", runs[0].Operation, runs[0].Status)
	}

	if runs[1].Status != matview.RunStatusFailed || runs[1].Operation != matview.OperationRefresh {
		t.Errorf("expected oldest run to be the failed refresh, got %s/%s", runs[1].Operation, runs[1].Status)
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h := newTestHarness(t)
	q := queue.NewInProcess("matview_jobs", 4, nil)

	defer func() { _ = q.Close() }()

	w, err := NewWorker(h.runner, q, testWorkerConfig(), testLogger())
	if err != nil {
		t.Fatalf("failed to build worker: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

// scriptedConsumer replays a fixed sequence of consume outcomes, then
// reports the queue closed.
type scriptedConsumer struct {
	jobs []*queue.Job
	errs []error
	pos  int
}

func (c *scriptedConsumer) Consume(_ context.Context) (*queue.Job, error) {
	if c.pos >= len(c.jobs) {
		return nil, queue.ErrQueueClosed
	}

	job, err := c.jobs[c.pos], c.errs[c.pos]
	c.pos++

	return job, err
}

func (c *scriptedConsumer) Close() error { return nil }

func TestWorkerSkipsUndecodableJobs(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h := newTestHarness(t)

	consumer := &scriptedConsumer{
		jobs: []*queue.Job{nil, queue.NewJob(matview.OperationCreate, h.def.ID)},
		errs: []error{fmt.Errorf("%w: unexpected end of JSON input", queue.ErrJobDecode), nil},
	}

	w, err := NewWorker(h.runner, consumer, testWorkerConfig(), testLogger())
	if err != nil {
		t.Fatalf("failed to build worker: %v", err)
	}

	skippedBefore := testutil.ToFloat64(metrics.JobsSkipped)

	if err := w.Run(t.Context()); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}

	if delta := testutil.ToFloat64(metrics.JobsSkipped) - skippedBefore; delta != 1 {
		t.Errorf("expected 1 skipped job, got %v", delta)
	}

	runs, err := h.runs.ListRuns(t.Context(), h.def.ID, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}

	if len(runs) != 1 {
		t.Fatalf("expected the decodable job to execute, got %d runs", len(runs))
	}
}

func TestWorkerConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := LoadWorkerConfig()

		if cfg.RatePerSecond != 2 || cfg.Burst != 2 {
			t.Errorf("unexpected defaults: %+v", cfg)
		}

		if err := cfg.Validate(); err != nil {
			t.Errorf("expected defaults to validate, got %v", err)
		}
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("MATVIEW_WORKER_RPS", "10")
		t.Setenv("MATVIEW_WORKER_BURST", "5")

		cfg := LoadWorkerConfig()

		if cfg.RatePerSecond != 10 || cfg.Burst != 5 {
			t.Errorf("expected env overrides, got %+v", cfg)
		}
	})

	t.Run("validation", func(t *testing.T) {
		if err := (&WorkerConfig{RatePerSecond: 0, Burst: 1}).Validate(); !errors.Is(err, ErrWorkerRateInvalid) {
			t.Errorf("expected ErrWorkerRateInvalid, got %v", err)
		}

		if err := (&WorkerConfig{RatePerSecond: 1, Burst: -1}).Validate(); !errors.Is(err, ErrWorkerBurstInvalid) {
			t.Errorf("expected ErrWorkerBurstInvalid, got %v", err)
		}
	})
}
