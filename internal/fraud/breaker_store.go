package fraud

import (
	"context"
	"errors"
	"time"

	"github.com/plateful/doorman/internal/circuitbreaker"
)

// ErrHistoryUnavailable is returned by a BreakerStore while its circuit is
// open. The detector treats it like any other store error and degrades.
var ErrHistoryUnavailable = errors.New("booking history store unavailable")

const historyBreakerKey = "fraud_history"

// BreakerStore wraps a HistoryStore with a circuit breaker. When the backing
// store fails repeatedly, calls short-circuit instead of stacking up on a
// struggling database. Assessments made while the circuit is open come back
// degraded, which fails open at the booking layer.
type BreakerStore struct {
	inner HistoryStore
	cb    *circuitbreaker.Breaker
}

// NewBreakerStore wraps inner with a circuit breaker that opens after 5
// consecutive failures and probes again after 30 seconds.
func NewBreakerStore(inner HistoryStore) *BreakerStore {
	return &BreakerStore{
		inner: inner,
		cb:    circuitbreaker.New(5, 30*time.Second),
	}
}

// State returns the current circuit state, for health reporting.
func (s *BreakerStore) State() circuitbreaker.State {
	return s.cb.State(historyBreakerKey)
}

func (s *BreakerStore) call(fn func() error) error {
	if !s.cb.Allow(historyBreakerKey) {
		return ErrHistoryUnavailable
	}
	err := fn()
	if err != nil {
		s.cb.RecordFailure(historyBreakerKey)
		return err
	}
	s.cb.RecordSuccess(historyBreakerKey)
	return nil
}

func (s *BreakerStore) RecordBooking(ctx context.Context, b *Booking) error {
	return s.call(func() error { return s.inner.RecordBooking(ctx, b) })
}

func (s *BreakerStore) SetBookingStatus(ctx context.Context, bookingID string, status BookingStatus) error {
	return s.call(func() error { return s.inner.SetBookingStatus(ctx, bookingID, status) })
}

func (s *BreakerStore) CountBookingsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.call(func() error {
		var err error
		count, err = s.inner.CountBookingsSince(ctx, userID, since)
		return err
	})
	return count, err
}

func (s *BreakerStore) CountByStatusSince(ctx context.Context, userID string, status BookingStatus, since time.Time) (int, error) {
	var count int
	err := s.call(func() error {
		var err error
		count, err = s.inner.CountByStatusSince(ctx, userID, status, since)
		return err
	})
	return count, err
}

func (s *BreakerStore) IsBlacklisted(ctx context.Context, userID, restaurantID string) (bool, error) {
	var blacklisted bool
	err := s.call(func() error {
		var err error
		blacklisted, err = s.inner.IsBlacklisted(ctx, userID, restaurantID)
		return err
	})
	return blacklisted, err
}

func (s *BreakerStore) AddToBlacklist(ctx context.Context, userID, restaurantID, reason string) error {
	return s.call(func() error { return s.inner.AddToBlacklist(ctx, userID, restaurantID, reason) })
}
