package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer decodes JSON messages of a consumer group topic.
type Consumer[T any] struct {
	reader messageReader
}

func NewConsumer[T any](cfg Config) *Consumer[T] {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	})
	return &Consumer[T]{reader: r}
}

// Read returns the next payload and commits its offset. A message that
// does not decode is committed too, so it is not delivered again.
func (c *Consumer[T]) Read(ctx context.Context) (T, error) {
	var zero T

	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return zero, err
	}

	var payload T
	decodeErr := json.Unmarshal(msg.Value, &payload)

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return zero, err
	}
	if decodeErr != nil {
		return zero, fmt.Errorf("%w: offset %d: %w", ErrBadMessage, msg.Offset, decodeErr)
	}
	return payload, nil
}

func (c *Consumer[T]) Close() error {
	return c.reader.Close()
}
