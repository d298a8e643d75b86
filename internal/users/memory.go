package users

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and local runs.
// The mutex plays the role of the Postgres unique index and row lock.
// Writes fail on a cancelled context, as a database round trip would.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]Account
	byEmail map[string]string
	clock   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    map[string]Account{},
		byEmail: map[string]string{},
		clock:   time.Now,
	}
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return clone(a), nil
}

func (s *MemoryStore) FindByRefreshDigest(ctx context.Context, digest string) (Account, error) {
	if digest == "" {
		return Account{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byID {
		if (a.Refresh != nil && a.Refresh.Digest == digest) || a.PreviousRefreshDigest == digest {
			return clone(a), nil
		}
	}
	return Account{}, ErrNotFound
}

func (s *MemoryStore) Create(ctx context.Context, in NewAccount) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	email := NormalizeEmail(in.Email)
	if _, exists := s.byEmail[email]; exists {
		return Account{}, ErrConflict
	}

	role := in.Role
	if role == "" {
		role = RoleUser
	}
	now := s.clock().UTC()
	a := Account{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  in.DisplayName,
		PasswordHash: in.PasswordHash,
		Role:         role,
		Status:       StatusActive,
		ProfileImage: in.ProfileImage,
		Team:         in.Team,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[a.ID] = a
	s.byEmail[email] = a.ID
	return clone(a), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, p Patch) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if p.DisplayName != nil {
		a.DisplayName = *p.DisplayName
	}
	if p.PasswordHash != nil {
		a.PasswordHash = *p.PasswordHash
	}
	if p.Role != nil {
		a.Role = *p.Role
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.EmailVerified != nil {
		a.EmailVerified = *p.EmailVerified
	}
	if p.ProfileImage != nil {
		a.ProfileImage = *p.ProfileImage
	}
	if p.Team != nil {
		a.Team = *p.Team
	}
	a.UpdatedAt = s.clock().UTC()
	s.byID[id] = a
	return clone(a), nil
}

func (s *MemoryStore) SetRefreshTokenDigest(ctx context.Context, id string, grant *RefreshGrant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.PreviousRefreshDigest = ""
	if grant == nil {
		a.Refresh = nil
	} else {
		a.Refresh = &RefreshToken{Digest: grant.Digest, ExpiresAt: grant.ExpiresAt.UTC()}
		a.RememberMe = grant.RememberMe
	}
	a.UpdatedAt = s.clock().UTC()
	s.byID[id] = a
	return nil
}

func (s *MemoryStore) RotateRefreshToken(ctx context.Context, id, presentedDigest string, next RefreshGrant) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if a.Refresh == nil || a.Refresh.Digest != presentedDigest {
		return Account{}, ErrStaleToken
	}
	a.Refresh = &RefreshToken{
		Digest:    next.Digest,
		ExpiresAt: next.ExpiresAt.UTC(),
		Rotation:  a.Refresh.Rotation + 1,
	}
	a.PreviousRefreshDigest = presentedDigest
	a.RememberMe = next.RememberMe
	a.UpdatedAt = s.clock().UTC()
	s.byID[id] = a
	return clone(a), nil
}

// Count returns the number of stored accounts.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func clone(a Account) Account {
	if a.Refresh != nil {
		r := *a.Refresh
		a.Refresh = &r
	}
	return a
}
