package queue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matview-io/matview/internal/config"
)

const (
	defaultQueueName  = "matview_jobs"
	defaultBufferSize = 64
	defaultBrokers    = "localhost:9092"
	defaultGroupID    = "matview-worker"
)

var (
	// ErrQueueNameEmpty is returned when the queue name is an empty string.
	ErrQueueNameEmpty = errors.New("queue name cannot be empty")

	// ErrBufferSizeInvalid is returned when the in-process buffer size is
	// not positive.
	ErrBufferSizeInvalid = errors.New("queue buffer size must be greater than zero")

	// ErrBrokersEmpty is returned when the Kafka backend has no brokers.
	ErrBrokersEmpty = errors.New("kafka brokers cannot be empty")

	// ErrGroupIDEmpty is returned when the Kafka backend has no consumer
	// group ID.
	ErrGroupIDEmpty = errors.New("kafka consumer group id cannot be empty")
)

// Config selects and parameterizes the queue backend. The same config is
// read by the daemon (consumer side) and the CLI (enqueue side) so both
// ends agree on the backend and queue name.
type Config struct {
	Backend    BackendKind // Queue backend: inprocess or kafka
	Name       string      // Logical queue name; the Kafka topic
	BufferSize int         // Channel capacity for the in-process backend
	Brokers    []string    // Kafka bootstrap brokers
	GroupID    string      // Kafka consumer group for the worker daemon
}

// LoadConfig loads queue configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Backend:    BackendKind(config.GetEnvStr("MATVIEW_QUEUE_BACKEND", BackendInProcess.String())),
		Name:       config.GetEnvStr("MATVIEW_QUEUE_NAME", defaultQueueName),
		BufferSize: config.GetEnvInt("MATVIEW_QUEUE_BUFFER", defaultBufferSize),
		Brokers:    config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", defaultBrokers)),
		GroupID:    config.GetEnvStr("KAFKA_GROUP_ID", defaultGroupID),
	}
}

// Validate checks if the queue configuration is valid for its backend.
func (c *Config) Validate() error {
	if !c.Backend.IsValid() {
		return fmt.Errorf("%w: %q", ErrBackendUnknown, c.Backend)
	}

	if strings.TrimSpace(c.Name) == "" {
		return ErrQueueNameEmpty
	}

	switch c.Backend {
	case BackendInProcess:
		if c.BufferSize <= 0 {
			return ErrBufferSizeInvalid
		}
	case BackendKafka:
		if len(c.Brokers) == 0 {
			return ErrBrokersEmpty
		}

		if strings.TrimSpace(c.GroupID) == "" {
			return ErrGroupIDEmpty
		}
	}

	return nil
}

// String returns a log-friendly summary of the queue configuration.
func (c *Config) String() string {
	if c.Backend == BackendKafka {
		return fmt.Sprintf("queue backend=%s name=%s brokers=%s group=%s",
			c.Backend, c.Name, strings.Join(c.Brokers, ","), c.GroupID)
	}

	return fmt.Sprintf("queue backend=%s name=%s buffer=%d", c.Backend, c.Name, c.BufferSize)
}
