package token

import (
	"context"
	"sync"
	"time"
)

// MemoryNonceStore is an in-memory NonceStore for tests and single-instance
// deployments. It is NOT safe for horizontally scaled deployments: each
// instance would hold its own nonce set, so a captured token could be
// replayed once per instance. Production uses PostgresNonceStore.
type MemoryNonceStore struct {
	mu   sync.Mutex
	m    map[string]time.Time
	nowF func() time.Time
}

// NewMemoryNonceStore returns a new in-memory nonce store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		m:    make(map[string]time.Time),
		nowF: time.Now,
	}
}

// CheckAndSet records nonce until expiresAt. Returns false if the nonce is
// already recorded and unexpired.
func (s *MemoryNonceStore) CheckAndSet(ctx context.Context, nonce string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.m[nonce]; ok && exp.After(s.nowF()) {
		return false, nil
	}
	s.m[nonce] = expiresAt
	return true, nil
}

// Purge drops expired nonces. Called opportunistically; correctness does not
// depend on it because CheckAndSet overwrites expired entries.
func (s *MemoryNonceStore) Purge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	for n, exp := range s.m {
		if !exp.After(now) {
			delete(s.m, n)
		}
	}
	return nil
}
