package runner

import (
	"errors"
	"fmt"

	"github.com/matview-io/matview/internal/config"
)

const (
	// defaultRatePerSecond keeps a runaway queue from hammering the
	// database with refresh DDL. Burst capacity allows short spikes above
	// the sustained rate.
	defaultRatePerSecond = 2
	defaultBurst         = 2
)

var (
	// ErrWorkerRateInvalid is returned when the worker rate is not positive.
	ErrWorkerRateInvalid = errors.New("worker rate must be greater than zero")

	// ErrWorkerBurstInvalid is returned when the worker burst is not positive.
	ErrWorkerBurstInvalid = errors.New("worker burst must be greater than zero")
)

// WorkerConfig bounds how fast the worker executes queued operations.
type WorkerConfig struct {
	RatePerSecond int // Sustained operations per second
	Burst         int // Burst capacity above the sustained rate
}

// LoadWorkerConfig loads worker configuration from environment variables
// with fallback to defaults.
func LoadWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		RatePerSecond: config.GetEnvInt("MATVIEW_WORKER_RPS", defaultRatePerSecond),
		Burst:         config.GetEnvInt("MATVIEW_WORKER_BURST", defaultBurst),
	}
}

// Validate checks if the worker configuration is valid.
func (c *WorkerConfig) Validate() error {
	if c.RatePerSecond <= 0 {
		return ErrWorkerRateInvalid
	}

	if c.Burst <= 0 {
		return ErrWorkerBurstInvalid
	}

	return nil
}

// String returns a log-friendly summary of the worker configuration.
func (c *WorkerConfig) String() string {
	return fmt.Sprintf("worker rate=%d/s burst=%d", c.RatePerSecond, c.Burst)
}
