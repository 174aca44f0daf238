package model

import "time"

// Verification purposes.
const (
	PurposeRegister = "register"
	PurposeReset    = "reset"
)

// Verification is a pending one-time code record. At most one live record
// exists per email: new requests replace the old record. Expired records are
// swept by a TTL index on ExpiresAt and defensively deleted on read.
//
// For registration the record carries the payload to apply on confirmation
// (password hash, requested role, target app). For password reset only the
// code itself matters.
type Verification struct {
	Email        string    `bson:"_id"`
	Code         string    `bson:"code"`
	Purpose      string    `bson:"purpose"`
	PasswordHash string    `bson:"password_hash,omitempty"`
	Role         string    `bson:"role,omitempty"`
	App          string    `bson:"app,omitempty"`
	ExpiresAt    time.Time `bson:"expires_at"`
	CreatedAt    time.Time `bson:"created_at"`
}

// Expired reports whether the record's code is past its TTL at now.
func (v *Verification) Expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}
