// Package session provides the Redis-backed session store.
//
// A session is an opaque token mapped to an account identity with a fixed
// TTL. Redis key expiry is the primary sweeper; Get re-checks the recorded
// expiry and deletes the session when stale, so a session is unreadable at
// or after its deadline even if the key has not been swept yet.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portalhq/portal/internal/auth"
	"github.com/portalhq/portal/internal/model"
)

// sessionKeyPrefix is the Redis key prefix for session records.
const sessionKeyPrefix = "session:"

// ErrSessionNotFound indicates the token maps to no live session.
var ErrSessionNotFound = errors.New("session not found")

// Store provides session persistence on Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// New creates a Store connected to the given Redis deployment.
// ttl is the lifetime of newly created sessions.
func New(ctx context.Context, redisURL string, ttl time.Duration) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Connection pool settings
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)

	// Verify connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Store{client: client, ttl: ttl, now: time.Now}, nil
}

// NewWithClient creates a Store around an existing client. Used by tests.
func NewWithClient(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl, now: time.Now}
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Create stores a new session for the identity and returns it.
// The token is generated here so callers cannot pick their own.
func (s *Store) Create(ctx context.Context, id model.Identity) (*model.Session, error) {
	token, err := auth.NewSessionToken()
	if err != nil {
		return nil, err
	}

	sess := &model.Session{
		Token:     token,
		Email:     id.Email,
		App:       id.App,
		Role:      id.Role,
		ExpiresAt: s.now().Add(s.ttl),
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	if err := s.client.Set(ctx, sessionKeyPrefix+token, data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	return sess, nil
}

// Get retrieves the session for the token. An expired session is treated as
// absent and deleted on the spot.
func (s *Store) Get(ctx context.Context, token string) (*model.Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// Corrupted record - treat as absent and drop it.
		_ = s.client.Del(ctx, sessionKeyPrefix+token).Err()
		return nil, ErrSessionNotFound
	}
	sess.Token = token

	if sess.Expired(s.now()) {
		_ = s.client.Del(ctx, sessionKeyPrefix+token).Err()
		return nil, ErrSessionNotFound
	}

	return &sess, nil
}

// Delete removes the session for the token.
// Deleting an already-absent session is not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
