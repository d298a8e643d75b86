package users

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("users: not found")
	ErrConflict = errors.New("users: email already registered")
	// ErrStaleToken means the presented refresh digest is no longer the current one.
	ErrStaleToken = errors.New("users: refresh token superseded")
	ErrTimeout    = errors.New("users: storage timeout")
)

// Store is the persistence contract for accounts.
//
// Email uniqueness is enforced by the backing store itself
// (a unique index in Postgres), never by a check-then-insert in callers.
type Store interface {
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	// FindByRefreshDigest matches the current or the immediately previous refresh digest.
	FindByRefreshDigest(ctx context.Context, digest string) (Account, error)

	Create(ctx context.Context, a NewAccount) (Account, error)
	Update(ctx context.Context, id string, p Patch) (Account, error)

	// SetRefreshTokenDigest replaces the refresh credential; nil clears it.
	SetRefreshTokenDigest(ctx context.Context, id string, grant *RefreshGrant) error
	// RotateRefreshToken swaps presentedDigest for next atomically.
	// It fails with ErrStaleToken when presentedDigest is not the current digest.
	RotateRefreshToken(ctx context.Context, id, presentedDigest string, next RefreshGrant) (Account, error)
}
