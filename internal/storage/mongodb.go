package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func openMongoDB(ctx context.Context, url, database string) (*DB, error) {
	if url == "" {
		return nil, errors.New("MongoDB URL is required")
	}
	if database == "" {
		database = DefaultConfig().MongoDatabase
	}

	client, err := mongo.Connect(options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &DB{kind: TypeMongoDB, mongo: client, mdb: client.Database(database)}, nil
}
