package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/portalhq/portal/internal/model"
)

// Common errors for account store operations.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrEmailExists     = errors.New("email already registered for this app")
)

// CreateAccount inserts a new account. The unique (email, app) index turns a
// concurrent duplicate insert into ErrEmailExists rather than a second row.
func (s *Store) CreateAccount(ctx context.Context, acct *model.Account) error {
	_, err := s.accounts().InsertOne(ctx, acct)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount retrieves the account for the given email within the app scope.
// The distinguished admin account lives at app "".
func (s *Store) GetAccount(ctx context.Context, email, app string) (*model.Account, error) {
	var acct model.Account
	err := s.accounts().FindOne(ctx, bson.D{
		{Key: "email", Value: email},
		{Key: "app", Value: app},
	}).Decode(&acct)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &acct, nil
}

// AccountsByEmail retrieves every account registered under the given email,
// one per app scope.
func (s *Store) AccountsByEmail(ctx context.Context, email string) ([]*model.Account, error) {
	cursor, err := s.accounts().Find(ctx, bson.D{{Key: "email", Value: email}})
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts by email: %w", err)
	}

	var accts []*model.Account
	if err := cursor.All(ctx, &accts); err != nil {
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}

	return accts, nil
}

// AccountsByApp retrieves every member account of the given app.
func (s *Store) AccountsByApp(ctx context.Context, app string) ([]*model.Account, error) {
	cursor, err := s.accounts().Find(ctx, bson.D{{Key: "app", Value: app}})
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts by app: %w", err)
	}

	var accts []*model.Account
	if err := cursor.All(ctx, &accts); err != nil {
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}

	return accts, nil
}

// UpdatePassword replaces the password hash on every account registered under
// the email. Returns the number of accounts updated.
func (s *Store) UpdatePassword(ctx context.Context, email, passwordHash string) (int64, error) {
	res, err := s.accounts().UpdateMany(ctx,
		bson.D{{Key: "email", Value: email}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "password_hash", Value: passwordHash}}}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update password: %w", err)
	}
	return res.ModifiedCount, nil
}

// UpdateRole changes the role of the account identified by (email, app).
func (s *Store) UpdateRole(ctx context.Context, email, app, role string) error {
	res, err := s.accounts().UpdateOne(ctx,
		bson.D{{Key: "email", Value: email}, {Key: "app", Value: app}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "role", Value: role}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DeleteAccount removes the account identified by (email, app).
func (s *Store) DeleteAccount(ctx context.Context, email, app string) error {
	res, err := s.accounts().DeleteOne(ctx, bson.D{
		{Key: "email", Value: email},
		{Key: "app", Value: app},
	})
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DeleteAccountsByApp removes every member account of the given app.
// Used by the app deletion cascade; deleting zero accounts is not an error.
func (s *Store) DeleteAccountsByApp(ctx context.Context, app string) (int64, error) {
	res, err := s.accounts().DeleteMany(ctx, bson.D{{Key: "app", Value: app}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete app accounts: %w", err)
	}
	return res.DeletedCount, nil
}

// CountAccounts returns the total number of accounts.
func (s *Store) CountAccounts(ctx context.Context) (int64, error) {
	n, err := s.accounts().CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}
