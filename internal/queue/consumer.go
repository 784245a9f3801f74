package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/showdoc/docqa/internal/fault"
	"github.com/showdoc/docqa/internal/index"
	"github.com/showdoc/docqa/internal/retry"
)

// Indexer is the slice of the indexing orchestrator the consumer drives.
type Indexer interface {
	IndexDocument(ctx context.Context, req index.Request) (index.Result, error)
	DeleteDocument(ctx context.Context, itemID, docID string) error
	DeleteItem(ctx context.Context, itemID string) error
}

// ConsumerConfig configures a worker's Kafka consumption.
type ConsumerConfig struct {
	// Brokers are the Kafka bootstrap addresses.
	Brokers []string
	// Topic is the work topic.
	Topic string
	// GroupID is the consumer group (default docqa-indexer).
	GroupID string
	// DeadLetterTopic receives jobs that failed permanently. Empty disables
	// dead-lettering; such jobs are dropped after logging.
	DeadLetterTopic string
	// Retry is the per-job retry policy.
	Retry retry.Policy
}

// Consumer pulls indexing jobs and drives the Indexer. Offsets are committed
// only after a job is handled (successfully or dead-lettered), so a crash
// redelivers in-flight work.
type Consumer struct {
	reader  *kafka.Reader
	dead    *kafka.Writer
	indexer Indexer
	policy  retry.Policy
	log     *slog.Logger
}

// NewConsumer creates a Consumer. The indexer is required.
func NewConsumer(cfg ConsumerConfig, indexer Indexer, log *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("queue: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("queue: topic is required")
	}
	if indexer == nil {
		return nil, fmt.Errorf("queue: indexer is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "docqa-indexer"
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		indexer: indexer,
		policy:  cfg.Retry,
		log:     log,
	}
	if cfg.DeadLetterTopic != "" {
		c.dead = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.DeadLetterTopic,
			Balancer: &kafka.Hash{},
		}
	}
	return c, nil
}

// Run consumes jobs until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fault.Transient("queue.fetch", fmt.Errorf("kafka fetch: %w", err))
		}

		if err := c.handle(ctx, msg); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fault.Transient("queue.commit", fmt.Errorf("kafka commit: %w", err))
		}
	}
}

// handle processes one message end to end. It returns an error only when the
// consumer itself should stop (context cancellation, dead-letter publish
// failure); job-level failures are dead-lettered and absorbed.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	job, err := DecodeJob(msg.Value)
	if err != nil {
		c.log.Error("dropping malformed job", "error", err, "offset", msg.Offset)
		return c.deadLetter(ctx, msg, err)
	}

	log := c.log.With("op", string(job.Op), "item_id", job.ItemID, "doc_id", job.DocID)

	err = retry.Do(ctx, "queue.job", c.policy, func(ctx context.Context) error {
		return c.dispatch(ctx, job)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("job failed permanently", "error", err)
		return c.deadLetter(ctx, msg, err)
	}

	log.Debug("job processed")
	return nil
}

// dispatch routes a job to the indexer.
func (c *Consumer) dispatch(ctx context.Context, job Job) error {
	switch job.Op {
	case OpIndex:
		_, err := c.indexer.IndexDocument(ctx, index.Request{
			ItemID:  job.ItemID,
			DocID:   job.DocID,
			Version: job.Version,
			Title:   job.Title,
			Content: job.Content,
		})
		return err
	case OpDeleteDocument:
		return c.indexer.DeleteDocument(ctx, job.ItemID, job.DocID)
	case OpDeleteItem:
		return c.indexer.DeleteItem(ctx, job.ItemID)
	default:
		return fault.Invalid("queue.dispatch", "unknown op %q", job.Op)
	}
}

// deadLetter forwards a failed message, tagging it with the failure reason.
// Without a dead-letter topic the message is dropped.
func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	if c.dead == nil {
		return nil
	}

	err := c.dead.WriteMessages(ctx, kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
	if err != nil {
		return fault.Transient("queue.deadletter", fmt.Errorf("kafka write: %w", err))
	}

	return nil
}

// Close closes the reader and the dead-letter writer.
func (c *Consumer) Close() error {
	err := c.reader.Close()
	if c.dead != nil {
		if derr := c.dead.Close(); err == nil {
			err = derr
		}
	}
	return err
}
