package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/matview-io/matview/internal/config"
)

const (
	// consumerMaxWait bounds how long the reader waits for a batch before
	// re-polling, which also bounds Consume's reaction time to Close.
	consumerMaxWait = 1 * time.Second

	consumerMinBytes = 1
	consumerMaxBytes = 10 << 20 // 10 MiB
)

// Kafka is the distributed queue backend. The enqueuing side writes to the
// topic named by the queue config; the worker daemon consumes it through a
// consumer group, so multiple daemons share the work.
//
// Messages are keyed by definition ID: all operations for one view land on
// one partition and execute in enqueue order, while different views spread
// across the group.
type Kafka struct {
	name   string
	writer *kafka.Writer
	reader *kafka.Reader
	logger *slog.Logger
}

// Compile-time interface assertion.
var _ Backend = (*Kafka)(nil)

// NewKafka creates a Kafka queue backend from the given config. The
// connection is lazy; broker availability surfaces on first Enqueue or
// Consume.
func NewKafka(cfg *Config, logger *slog.Logger) *Kafka {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("MATVIEW_LOG_LEVEL", slog.LevelInfo),
		}))
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Name,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Name,
		MinBytes: consumerMinBytes,
		MaxBytes: consumerMaxBytes,
		MaxWait:  consumerMaxWait,
	})

	return &Kafka{
		name:   cfg.Name,
		writer: writer,
		reader: reader,
		logger: logger,
	}
}

// Enqueue publishes the job to the topic, keyed by definition ID.
func (q *Kafka) Enqueue(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	job.Queue = q.name

	payload, err := job.Encode()
	if err != nil {
		return err
	}

	message := kafka.Message{
		Key:   []byte(job.DefinitionID),
		Value: payload,
	}

	if err := q.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	q.logger.Debug("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("operation", job.Operation.String()),
		slog.String("definition_id", job.DefinitionID),
		slog.String("topic", q.name),
	)

	return nil
}

// Consume reads the next message from the consumer group. The offset is
// committed on read, so a payload that fails to decode is reported once
// (wrapped in ErrJobDecode) and then skipped.
func (q *Kafka) Consume(ctx context.Context) (*Job, error) {
	message, err := q.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		// The reader reports io.EOF once it has been closed.
		if errors.Is(err, io.EOF) {
			return nil, ErrQueueClosed
		}

		return nil, fmt.Errorf("failed to consume from topic %s: %w", q.name, err)
	}

	job, err := DecodeJob(message.Value)
	if err != nil {
		return nil, fmt.Errorf("%w (topic %s, partition %d, offset %d)",
			err, message.Topic, message.Partition, message.Offset)
	}

	return job, nil
}

// Close releases the writer and reader. Blocked Consume calls return once
// the reader closes.
func (q *Kafka) Close() error {
	return errors.Join(q.writer.Close(), q.reader.Close())
}
