package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/andrej220/boardrun/internal/lg"
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each record as one JSON message keyed by run id.
type KafkaSink struct {
	writer messageWriter
	topic  string
	logger lg.Logger
}

func NewKafkaSink(brokers []string, topic string, logger lg.Logger) *KafkaSink {
	if logger == nil {
		logger = lg.Discard
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			Async:                  false,
			AllowAutoTopicCreation: true,
		},
		topic:  topic,
		logger: logger,
	}
}

func (s *KafkaSink) Write(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		value, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.RunID),
			Value: value,
			Time:  r.At,
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			s.logger.Error("Kafka topic does not exist",
				lg.String("topic", s.topic),
				lg.String("action", "Create the topic manually or enable auto-creation"))
		}
		return fmt.Errorf("publish %d record(s): %w", len(msgs), err)
	}
	s.logger.Debug("records published", lg.String("topic", s.topic), lg.Int("count", len(msgs)))
	return nil
}

func (s *KafkaSink) Close() error { return s.writer.Close() }
