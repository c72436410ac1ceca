package report

import (
	"context"
	"errors"

	"github.com/andrej220/boardrun/internal/lg"
)

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers" validate:"required,min=1,dive,hostname_port"`
	Topic   string   `yaml:"topic" json:"topic" validate:"required"`
}

type MongoConfig struct {
	URI        string `yaml:"uri" json:"uri" validate:"required"`
	Database   string `yaml:"database" json:"database" validate:"required"`
	Collection string `yaml:"collection" json:"collection" validate:"required"`
}

// Config selects the sinks of a run. Every configured sink receives every
// record.
type Config struct {
	File  string       `yaml:"file,omitempty" json:"file,omitempty"`
	Kafka *KafkaConfig `yaml:"kafka,omitempty" json:"kafka,omitempty"`
	Mongo *MongoConfig `yaml:"mongo,omitempty" json:"mongo,omitempty"`
}

// Open builds the configured sinks. With nothing configured the result
// discards records.
func Open(ctx context.Context, cfg Config, logger lg.Logger) (Sink, error) {
	var sinks Multi
	if cfg.File != "" {
		sinks = append(sinks, NewFileSink(cfg.File))
	}
	if cfg.Kafka != nil {
		sinks = append(sinks, NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger))
	}
	if cfg.Mongo != nil {
		m, err := NewMongoSink(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			return nil, errors.Join(err, sinks.Close())
		}
		sinks = append(sinks, m)
	}
	return sinks, nil
}
