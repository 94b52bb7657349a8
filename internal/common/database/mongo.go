// internal/common/database/mongo.go
package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"notification-workers/internal/common/config"
)

// MongoClient wraps the MongoDB client and the configured database
type MongoClient struct {
	Client   *mongo.Client
	Database *mongo.Database
	cfg      config.MongoConfig
}

// NewMongo connects and pings the primary
func NewMongo(ctx context.Context, cfg config.MongoConfig) (*MongoClient, error) {
	timeout := config.GetDuration(cfg.Timeout)
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}

	return &MongoClient{Client: client, Database: client.Database(cfg.Database), cfg: cfg}, nil
}

// Templates returns the template collection
func (c *MongoClient) Templates() *mongo.Collection {
	return c.Database.Collection(c.cfg.Collection)
}

// Ping tests the MongoDB connection
func (c *MongoClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo ping failed: %w", err)
	}
	return nil
}

// Close disconnects the client
func (c *MongoClient) Close(ctx context.Context) error {
	if c.Client != nil {
		return c.Client.Disconnect(ctx)
	}
	return nil
}
