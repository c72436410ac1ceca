package report

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type inserter interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
}

// MongoSink stores records as documents in one collection.
type MongoSink struct {
	client     *mongo.Client
	collection inserter
}

// NewMongoSink connects to uri and checks the server with a ping.
func NewMongoSink(ctx context.Context, uri, dbName, collName string) (*MongoSink, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &MongoSink{
		client:     client,
		collection: client.Database(dbName).Collection(collName),
	}, nil
}

func (s *MongoSink) Write(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = r
	}
	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("MongoDB InsertMany failed: %w", err)
	}
	return nil
}

func (s *MongoSink) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
