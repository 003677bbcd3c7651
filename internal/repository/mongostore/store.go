// Package mongostore keeps users and workshops in MongoDB, one document per
// entity keyed by address or workshop id. Every mutation is a single-document
// update, which MongoDB applies atomically.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	UsersCollection     = "users"
	WorkshopsCollection = "workshops"

	connectTimeout = 10 * time.Second
)

// Connect opens a client and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes the repositories rely on. Routing
// secrets must be unique so FindBySecret is unambiguous.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(WorkshopsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "emailSecret", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("emailSecret_unique"),
	})
	if err != nil {
		return fmt.Errorf("create workshop indexes: %w", err)
	}
	return nil
}
