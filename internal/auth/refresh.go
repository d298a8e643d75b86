package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"identity-service/internal/users"
)

// ErrInvalidToken is returned for unknown, expired or superseded refresh tokens.
var ErrInvalidToken = errors.New("auth: invalid refresh token")

// ReuseError reports that an already-rotated refresh token was presented again.
// It matches ErrInvalidToken under errors.Is.
type ReuseError struct {
	AccountID string
}

func (e *ReuseError) Error() string         { return "auth: refresh token reuse detected" }
func (e *ReuseError) Is(target error) bool { return target == ErrInvalidToken }

// RefreshToken is a freshly minted opaque refresh credential.
// Value goes to the client exactly once; only Digest is persisted.
type RefreshToken struct {
	Value     string
	Digest    string
	ExpiresAt time.Time
}

// Grant converts the token into what the store persists.
func (r RefreshToken) Grant(rememberMe bool) users.RefreshGrant {
	return users.RefreshGrant{Digest: r.Digest, ExpiresAt: r.ExpiresAt, RememberMe: rememberMe}
}

// IssueRefreshToken mints a new refresh credential. Persisting its digest through
// the store replaces any previous one for the account.
func (i *Issuer) IssueRefreshToken() (RefreshToken, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return RefreshToken{}, fmt.Errorf("auth: refresh entropy: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(buf)

	digest, err := i.DigestRefreshToken(value)
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{
		Value:     value,
		Digest:    digest,
		ExpiresAt: i.clock().UTC().Add(i.cfg.RefreshTTL()),
	}, nil
}

// DigestRefreshToken is HMAC-SHA256 over the raw value, keyed with the signing key, hex encoded.
func (i *Issuer) DigestRefreshToken(value string) (string, error) {
	key, err := i.cfg.SigningKey()
	if err != nil || len(key) == 0 {
		return "", fmt.Errorf("%w: %w", ErrSigning, errSigningKey(err))
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// RefreshStore is the slice of users.Store that rotation needs.
type RefreshStore interface {
	FindByRefreshDigest(ctx context.Context, digest string) (users.Account, error)
	RotateRefreshToken(ctx context.Context, id, presentedDigest string, next users.RefreshGrant) (users.Account, error)
}

// Rotation is the result of a successful refresh.
type Rotation struct {
	Account users.Account
	Claims  Claims
	Session string
	Refresh RefreshToken
}

/* ===================== ROTATE REFRESH TOKEN ===================== */

// RotateRefreshToken exchanges a presented refresh token for a new session token and
// a new refresh token. The store swap is atomic: of two concurrent rotations of the
// same token exactly one succeeds and the other gets ErrInvalidToken.
func (i *Issuer) RotateRefreshToken(ctx context.Context, store RefreshStore, presented string) (Rotation, error) {
	if presented == "" {
		return Rotation{}, ErrInvalidToken
	}
	digest, err := i.DigestRefreshToken(presented)
	if err != nil {
		return Rotation{}, err
	}

	acct, err := store.FindByRefreshDigest(ctx, digest)
	if errors.Is(err, users.ErrNotFound) {
		return Rotation{}, ErrInvalidToken
	}
	if err != nil {
		return Rotation{}, err
	}

	if acct.Refresh == nil || !hmac.Equal([]byte(acct.Refresh.Digest), []byte(digest)) {
		// Only the previous digest matched.
		return Rotation{}, &ReuseError{AccountID: acct.ID}
	}
	if !i.clock().Before(acct.Refresh.ExpiresAt) {
		return Rotation{}, ErrInvalidToken
	}
	if !acct.Active() {
		return Rotation{}, ErrInvalidToken
	}

	next, err := i.IssueRefreshToken()
	if err != nil {
		return Rotation{}, err
	}

	// Fail before the swap if the session token could not be signed afterwards.
	if _, _, err := i.signingMaterial(); err != nil {
		return Rotation{}, err
	}

	updated, err := store.RotateRefreshToken(ctx, acct.ID, digest, next.Grant(acct.RememberMe))
	if errors.Is(err, users.ErrStaleToken) || errors.Is(err, users.ErrNotFound) {
		return Rotation{}, ErrInvalidToken
	}
	if err != nil {
		return Rotation{}, err
	}

	claims, session, err := i.IssueSessionToken(updated, updated.RememberMe)
	if err != nil {
		return Rotation{}, err
	}
	return Rotation{Account: updated, Claims: claims, Session: session, Refresh: next}, nil
}

func errSigningKey(err error) error {
	if err != nil {
		return err
	}
	return errors.New("empty signing key")
}
