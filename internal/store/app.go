package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/portalhq/portal/internal/model"
)

// Common errors for app registry operations.
var (
	ErrAppNotFound        = errors.New("app not found")
	ErrAppExists          = errors.New("app name already taken")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
)

// CreateApp inserts a new tenant registry entry.
func (s *Store) CreateApp(ctx context.Context, app *model.App) error {
	_, err := s.apps().InsertOne(ctx, app)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAppExists
		}
		return fmt.Errorf("failed to create app: %w", err)
	}
	return nil
}

// GetApp retrieves the registry entry for the named app.
func (s *Store) GetApp(ctx context.Context, name string) (*model.App, error) {
	var app model.App
	err := s.apps().FindOne(ctx, bson.D{{Key: "name", Value: name}}).Decode(&app)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAppNotFound
		}
		return nil, fmt.Errorf("failed to get app: %w", err)
	}

	return &app, nil
}

// ListApps returns every registered tenant app.
func (s *Store) ListApps(ctx context.Context) ([]*model.App, error) {
	cursor, err := s.apps().Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}

	var apps []*model.App
	if err := cursor.All(ctx, &apps); err != nil {
		return nil, fmt.Errorf("failed to decode apps: %w", err)
	}

	return apps, nil
}

// DeleteApp removes the registry entry for the named app.
// The tenant database and member accounts are cascaded by the caller;
// there is no transaction across the steps.
func (s *Store) DeleteApp(ctx context.Context, name string) error {
	res, err := s.apps().DeleteOne(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return fmt.Errorf("failed to delete app: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrAppNotFound
	}
	return nil
}

// SetOwner reassigns the app's owner.
func (s *Store) SetOwner(ctx context.Context, name, owner string) error {
	res, err := s.apps().UpdateOne(ctx,
		bson.D{{Key: "name", Value: name}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "owner", Value: owner}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to set app owner: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrAppNotFound
	}
	return nil
}

// AddCollection records a new collection on the registry entry and creates it
// in the tenant database.
func (s *Store) AddCollection(ctx context.Context, appName, collection string) error {
	res, err := s.apps().UpdateOne(ctx,
		bson.D{{Key: "name", Value: appName}},
		bson.D{{Key: "$addToSet", Value: bson.D{{Key: "collections", Value: collection}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to register collection: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrAppNotFound
	}
	if res.ModifiedCount == 0 {
		return ErrCollectionExists
	}

	if err := s.tenantDB(appName).CreateCollection(ctx, collection); err != nil {
		// The registry entry is already updated; surface the error and leave
		// the creation to be retried. Mongo creates collections lazily on
		// first insert anyway.
		return fmt.Errorf("failed to create tenant collection: %w", err)
	}

	return nil
}

// RemoveCollection drops the tenant collection and removes it from the
// registry entry.
func (s *Store) RemoveCollection(ctx context.Context, appName, collection string) error {
	res, err := s.apps().UpdateOne(ctx,
		bson.D{{Key: "name", Value: appName}},
		bson.D{{Key: "$pull", Value: bson.D{{Key: "collections", Value: collection}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to unregister collection: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrAppNotFound
	}
	if res.ModifiedCount == 0 {
		return ErrCollectionNotFound
	}

	if err := s.tenantDB(appName).Collection(collection).Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop tenant collection: %w", err)
	}

	return nil
}

// DropTenant drops the app's entire tenant database.
func (s *Store) DropTenant(ctx context.Context, appName string) error {
	if err := s.tenantDB(appName).Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop tenant database: %w", err)
	}
	return nil
}

// SeedMember fans a placeholder membership document out into each named
// collection of the app. Called when a verified registration completes.
func (s *Store) SeedMember(ctx context.Context, appName string, collections []string, email string) error {
	for _, coll := range collections {
		_, err := s.tenantDB(appName).Collection(coll).UpdateOne(ctx,
			bson.D{{Key: "userId", Value: email}},
			bson.D{{Key: "$setOnInsert", Value: bson.D{{Key: "userId", Value: email}}}},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("failed to seed member into %q: %w", coll, err)
		}
	}
	return nil
}

// SeedCollection backfills one placeholder membership document per existing
// member into a newly added collection.
func (s *Store) SeedCollection(ctx context.Context, appName, collection string, emails []string) error {
	if len(emails) == 0 {
		return nil
	}

	docs := make([]any, 0, len(emails))
	for _, email := range emails {
		docs = append(docs, bson.D{{Key: "userId", Value: email}})
	}

	if _, err := s.tenantDB(appName).Collection(collection).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to backfill collection %q: %w", collection, err)
	}
	return nil
}

// UpsertObject merges the given fields onto the member's document in the
// named tenant collection, creating the document if absent.
func (s *Store) UpsertObject(ctx context.Context, appName, collection, userID string, fields map[string]any) error {
	set := bson.D{}
	for k, v := range fields {
		if k == "userId" || k == "_id" {
			continue
		}
		set = append(set, bson.E{Key: k, Value: v})
	}

	// An empty $set document is rejected by the server.
	update := bson.D{
		{Key: "$setOnInsert", Value: bson.D{{Key: "userId", Value: userID}}},
	}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}

	_, err := s.tenantDB(appName).Collection(collection).UpdateOne(ctx,
		bson.D{{Key: "userId", Value: userID}},
		update,
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert object: %w", err)
	}
	return nil
}

// PurgeMemberDocs removes the member's documents from each named collection.
// Part of the user deletion cascade; best-effort, no transaction.
func (s *Store) PurgeMemberDocs(ctx context.Context, appName string, collections []string, email string) error {
	for _, coll := range collections {
		_, err := s.tenantDB(appName).Collection(coll).DeleteMany(ctx,
			bson.D{{Key: "userId", Value: email}},
		)
		if err != nil {
			return fmt.Errorf("failed to purge member docs from %q: %w", coll, err)
		}
	}
	return nil
}
