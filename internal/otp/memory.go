package otp

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

type memEntry struct {
	digest    string
	attempts  int
	expiresAt time.Time
}

// MemoryStore is a Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	clock   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memEntry{}, clock: time.Now}
}

func (s *MemoryStore) Put(ctx context.Context, purpose Purpose, email, digest string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key(purpose, email)] = memEntry{digest: digest, expiresAt: s.clock().Add(ttl)}
	return nil
}

func (s *MemoryStore) Consume(ctx context.Context, purpose Purpose, email, digest string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(purpose, email)
	e, ok := s.entries[k]
	if !ok || !s.clock().Before(e.expiresAt) {
		delete(s.entries, k)
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(e.digest), []byte(digest)) == 1 {
		delete(s.entries, k)
		return true, nil
	}
	e.attempts++
	if e.attempts >= MaxAttempts {
		delete(s.entries, k)
	} else {
		s.entries[k] = e
	}
	return false, nil
}

// Pending reports whether a code is waiting for (purpose, email).
func (s *MemoryStore) Pending(purpose Purpose, email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key(purpose, email)]
	return ok
}
