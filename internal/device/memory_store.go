package device

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of FingerprintStore for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string][]*Registration // fingerprint → registrations
	seen    map[string]struct{}        // fingerprint|userID

	failWith error
}

// NewMemoryStore creates an in-memory fingerprint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string][]*Registration),
		seen:    make(map[string]struct{}),
	}
}

// FailWith makes subsequent reads return err. Pass nil to restore.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *MemoryStore) Register(ctx context.Context, fingerprint, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fingerprint + "|" + userID
	if _, ok := s.seen[key]; ok {
		return nil
	}
	s.seen[key] = struct{}{}
	s.devices[fingerprint] = append(s.devices[fingerprint], &Registration{
		Fingerprint: fingerprint,
		UserID:      userID,
		CreatedAt:   time.Now(),
	})
	return nil
}

func (s *MemoryStore) CountAccounts(ctx context.Context, fingerprint string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return 0, s.failWith
	}
	return len(s.devices[fingerprint]), nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context, fingerprint string) ([]*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return nil, s.failWith
	}

	regs := s.devices[fingerprint]
	out := make([]*Registration, len(regs))
	for i, r := range regs {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}
