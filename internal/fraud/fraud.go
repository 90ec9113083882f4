// Package fraud implements booking-abuse detection for the reservation platform.
//
// Every booking attempt is evaluated against weighted behavioral factors:
// daily booking volume, rapid-fire booking bursts, cancellation history, and
// no-show history. Factor weights are additive and the sum is not capped, so
// a score above 1.0 means several signals fired at once. A restaurant
// blacklist entry overrides all factors with exactly 1.0. Attempts at or
// above the block threshold are rejected before the booking is created.
package fraud

import (
	"context"
	"time"
)

// BookingStatus is the lifecycle state of a booking used for history counts.
type BookingStatus string

const (
	StatusConfirmed BookingStatus = "confirmed"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
	StatusNoShow    BookingStatus = "no_show"
)

// Reason codes attached to assessments. User-facing messages are generated
// elsewhere; these are for audit and review tooling.
const (
	ReasonDailyLimit    = "daily_limit_exceeded"
	ReasonRapidBookings = "rapid_booking_pattern"
	ReasonCancellations = "excessive_cancellations"
	ReasonNoShows       = "excessive_no_shows"
	ReasonBlacklisted   = "restaurant_blacklist"
)

// Factor weights. Factors are additive and uncapped; the blacklist
// overrides them all with exactly 1.0.
const (
	weightRapidBookings = 0.4
	weightDailyLimit    = 0.6
	weightCancellations = 0.5
	weightNoShows       = 0.7
)

// Booking is a single reservation record in the abuse history.
type Booking struct {
	ID           string        `json:"id"`
	UserID       string        `json:"userId"`
	RestaurantID string        `json:"restaurantId"`
	Status       BookingStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Assessment is the result of evaluating a booking attempt.
type Assessment struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	RestaurantID string    `json:"restaurantId"`
	Score        float64   `json:"score"`
	Allowed      bool      `json:"allowed"`
	Reasons      []string  `json:"reasons,omitempty"`
	Degraded     bool      `json:"degraded,omitempty"` // a history lookup failed; missing factors scored as zero
	EvaluatedAt  time.Time `json:"evaluatedAt"`
}

// Config holds the abuse thresholds.
type Config struct {
	MaxBookingsPerDay       int
	MaxCancellationsPerWeek int
	MaxNoShowsPerMonth      int
	Threshold               float64 // block at or above this score
	RapidWindow             time.Duration
	MaxRapidBookings        int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MaxBookingsPerDay:       10,
		MaxCancellationsPerWeek: 5,
		MaxNoShowsPerMonth:      3,
		Threshold:               0.7,
		RapidWindow:             5 * time.Minute,
		MaxRapidBookings:        3,
	}
}

// HistoryStore persists booking history and restaurant blacklists.
type HistoryStore interface {
	RecordBooking(ctx context.Context, b *Booking) error
	SetBookingStatus(ctx context.Context, bookingID string, status BookingStatus) error
	CountBookingsSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountByStatusSince(ctx context.Context, userID string, status BookingStatus, since time.Time) (int, error)
	IsBlacklisted(ctx context.Context, userID, restaurantID string) (bool, error)
	AddToBlacklist(ctx context.Context, userID, restaurantID, reason string) error
}
