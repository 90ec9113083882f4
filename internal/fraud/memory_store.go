package fraud

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of HistoryStore for demo/test use.
type MemoryStore struct {
	mu        sync.RWMutex
	bookings  map[string][]*Booking // userID → bookings
	byID      map[string]*Booking
	blacklist map[string]string // userID|restaurantID → reason

	// failWith, when set, makes every read return this error. Test hook for
	// exercising the fail-open path.
	failWith error
}

// NewMemoryStore creates an in-memory booking history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:  make(map[string][]*Booking),
		byID:      make(map[string]*Booking),
		blacklist: make(map[string]string),
	}
}

// FailWith makes subsequent reads return err. Pass nil to restore.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *MemoryStore) RecordBooking(ctx context.Context, b *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *b
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	if cp.Status == "" {
		cp.Status = StatusConfirmed
	}
	s.bookings[cp.UserID] = append(s.bookings[cp.UserID], &cp)
	s.byID[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) SetBookingStatus(ctx context.Context, bookingID string, status BookingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.byID[bookingID]; ok {
		b.Status = status
	}
	return nil
}

func (s *MemoryStore) CountBookingsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return 0, s.failWith
	}

	count := 0
	for _, b := range s.bookings[userID] {
		if b.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountByStatusSince(ctx context.Context, userID string, status BookingStatus, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return 0, s.failWith
	}

	count := 0
	for _, b := range s.bookings[userID] {
		if b.Status == status && b.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) IsBlacklisted(ctx context.Context, userID, restaurantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return false, s.failWith
	}

	_, ok := s.blacklist[userID+"|"+restaurantID]
	return ok, nil
}

func (s *MemoryStore) AddToBlacklist(ctx context.Context, userID, restaurantID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blacklist[userID+"|"+restaurantID] = reason
	return nil
}
