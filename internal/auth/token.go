package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// CodeLength is the number of digits in a verification code.
const CodeLength = 6

// tokenBytes is the entropy of a session token (hex encoded to 64 chars).
const tokenBytes = 32

// NewSessionToken generates an opaque session token.
// The token carries no information; it is only a lookup key.
func NewSessionToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewVerificationCode generates a 6-digit numeric one-time code.
// Codes are zero-padded, so "042913" is valid.
func NewVerificationCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < CodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}

	return fmt.Sprintf("%0*d", CodeLength, n), nil
}
