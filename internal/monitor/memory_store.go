package monitor

import (
	"context"
	"sync"

	"github.com/plateful/doorman/internal/pagination"
)

// MemoryAuditStore is an in-memory AuditStore for demo/test use.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

// NewMemoryAuditStore creates an in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) AppendBatch(ctx context.Context, entries []*AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		cp := *e
		s.entries = append(s.entries, &cp)
	}
	return nil
}

func (s *MemoryAuditStore) ListByUser(ctx context.Context, userID string, limit int, opts ...ListOption) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o := applyListOpts(opts)
	var result []*AuditEntry
	for i := len(s.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := s.entries[i]
		if e.UserID != userID || !beforeCursor(e, o.cursor) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryAuditStore) ListRecent(ctx context.Context, limit int, opts ...ListOption) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o := applyListOpts(opts)
	var result []*AuditEntry
	for i := len(s.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := s.entries[i]
		if !beforeCursor(e, o.cursor) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// beforeCursor reports whether e falls strictly after the cursor position in
// a newest-first listing. Entries sharing the cursor timestamp tie-break on ID.
func beforeCursor(e *AuditEntry, c *pagination.Cursor) bool {
	if c == nil {
		return true
	}
	if e.CreatedAt.Equal(c.CreatedAt) {
		return e.ID < c.ID
	}
	return e.CreatedAt.Before(c.CreatedAt)
}

// Len returns the number of stored entries.
func (s *MemoryAuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// MemoryEscalationStore is an in-memory EscalationStore for demo/test use.
type MemoryEscalationStore struct {
	mu          sync.RWMutex
	escalations []*Escalation

	failWith error
}

// NewMemoryEscalationStore creates an in-memory escalation store.
func NewMemoryEscalationStore() *MemoryEscalationStore {
	return &MemoryEscalationStore{}
}

// FailWith makes subsequent operations return err. Pass nil to restore.
func (s *MemoryEscalationStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *MemoryEscalationStore) Create(ctx context.Context, e *Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}
	cp := *e
	s.escalations = append(s.escalations, &cp)
	return nil
}

func (s *MemoryEscalationStore) ListUnresolved(ctx context.Context, userID string) ([]*Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return nil, s.failWith
	}

	var result []*Escalation
	for _, e := range s.escalations {
		if e.UserID == userID && !e.Resolved {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryEscalationStore) Resolve(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}

	for _, e := range s.escalations {
		if e.ID == id {
			e.Resolved = true
			return nil
		}
	}
	return nil
}

// All returns a copy of every escalation, for tests and the admin endpoint.
func (s *MemoryEscalationStore) All() []*Escalation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Escalation, len(s.escalations))
	for i, e := range s.escalations {
		cp := *e
		out[i] = &cp
	}
	return out
}
