// Package store provides document database access.
//
// One administrative database holds the accounts, verifications and app
// registry collections. Each tenant app owns its own database, named after
// the app, holding the developer-defined collections.
package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Administrative collection names.
const (
	collAccounts      = "accounts"
	collVerifications = "verifications"
	collApps          = "apps"
)

// tenantDBPrefix namespaces tenant databases away from the admin database.
const tenantDBPrefix = "app_"

// Store provides document store access methods.
type Store struct {
	client  *mongo.Client
	adminDB string
}

// New creates a new Store connected to the given MongoDB deployment.
func New(ctx context.Context, mongoURL, adminDB string) (*Store, error) {
	opts := options.Client().
		ApplyURI(mongoURL).
		SetMaxPoolSize(10).
		SetMinPoolSize(2)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	// Verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &Store{client: client, adminDB: adminDB}, nil
}

// EnsureIndexes creates the indexes the store relies on:
//   - unique (email, app) on accounts, so the duplicate check is enforced
//     at insert time and a check/insert race cannot admit two accounts;
//   - a TTL index on verification expiry, the de-facto sweeper for stale
//     one-time codes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.accounts().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}, {Key: "app", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create accounts index: %w", err)
	}

	_, err = s.verifications().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("create verifications TTL index: %w", err)
	}

	_, err = s.apps().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create apps index: %w", err)
	}

	return nil
}

// Ping checks document store connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) accounts() *mongo.Collection {
	return s.client.Database(s.adminDB).Collection(collAccounts)
}

func (s *Store) verifications() *mongo.Collection {
	return s.client.Database(s.adminDB).Collection(collVerifications)
}

func (s *Store) apps() *mongo.Collection {
	return s.client.Database(s.adminDB).Collection(collApps)
}

// tenantDB returns the database owned by the named app.
func (s *Store) tenantDB(appName string) *mongo.Database {
	return s.client.Database(tenantDBPrefix + appName)
}
