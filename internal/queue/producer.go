package queue

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/showdoc/docqa/internal/fault"
)

// Producer publishes indexing jobs to the work topic.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Producer writing to topic on the given brokers.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("queue: at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("queue: topic is required")
	}

	return &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}, nil
}

// Enqueue validates and publishes a job.
func (p *Producer) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	value, err := job.Encode()
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   job.Key(),
		Value: value,
	})
	if err != nil {
		return fault.Transient("queue.enqueue", fmt.Errorf("kafka write: %w", err))
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
