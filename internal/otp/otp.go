// Package otp stores short-lived one-time codes for email verification and
// password reset. Only SHA-256 digests of codes are stored.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

type Purpose string

const (
	PurposeRegistration  Purpose = "register"
	PurposePasswordReset Purpose = "reset"
)

// MaxAttempts is how many wrong guesses burn a code.
const MaxAttempts = 5

type Store interface {
	// Put replaces any pending code for (purpose, email).
	Put(ctx context.Context, purpose Purpose, email, digest string, ttl time.Duration) error
	// Consume deletes the code and returns true when digest matches.
	Consume(ctx context.Context, purpose Purpose, email, digest string) (bool, error)
}

// NewCode returns a uniformly random 6-digit code.
func NewCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("otp: entropy: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func Digest(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func key(purpose Purpose, email string) string {
	return "otp:" + string(purpose) + ":" + email
}
