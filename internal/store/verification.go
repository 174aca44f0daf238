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

// ErrVerificationNotFound indicates no pending code exists for the email.
var ErrVerificationNotFound = errors.New("verification record not found")

// PutVerification stores a pending one-time code for the email, replacing
// any previous record. Keying the record by email keeps the single-live-code
// invariant without a separate cleanup step.
func (s *Store) PutVerification(ctx context.Context, rec *model.Verification) error {
	_, err := s.verifications().ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: rec.Email}},
		rec,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to store verification record: %w", err)
	}
	return nil
}

// GetVerification retrieves the pending record for the email.
// Expiry is checked by the caller; the TTL monitor deletes records lazily,
// so an expired record may still be readable shortly after its deadline.
func (s *Store) GetVerification(ctx context.Context, email string) (*model.Verification, error) {
	var rec model.Verification
	err := s.verifications().FindOne(ctx, bson.D{{Key: "_id", Value: email}}).Decode(&rec)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrVerificationNotFound
		}
		return nil, fmt.Errorf("failed to get verification record: %w", err)
	}

	return &rec, nil
}

// DeleteVerification removes the pending record for the email.
// Deleting an absent record is not an error.
func (s *Store) DeleteVerification(ctx context.Context, email string) error {
	_, err := s.verifications().DeleteOne(ctx, bson.D{{Key: "_id", Value: email}})
	if err != nil {
		return fmt.Errorf("failed to delete verification record: %w", err)
	}
	return nil
}
