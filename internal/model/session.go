package model

import "time"

// Session maps an opaque token to an account identity and an expiry time.
// Sessions are persisted in Redis so they survive process restarts and are
// shared across server instances; Redis key TTL is the primary sweeper and
// ExpiresAt is re-checked on read.
type Session struct {
	Token     string    `json:"-"`
	Email     string    `json:"email"`
	App       string    `json:"app"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
// A session is unreadable at exactly its expiry instant.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
