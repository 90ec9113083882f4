package fraud

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/plateful/doorman/internal/idgen"
	"github.com/plateful/doorman/internal/logging"
	"github.com/plateful/doorman/internal/traces"
)

// Detector scores booking attempts against a user's abuse history.
type Detector struct {
	store  HistoryStore
	cfg    Config
	logger *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger used for high-risk assessments.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// NewDetector creates a fraud detector backed by the given history store.
func NewDetector(store HistoryStore, cfg Config, opts ...Option) *Detector {
	d := &Detector{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CheckBooking evaluates a booking attempt. It never returns an error:
// history lookups that fail are scored as zero and the assessment is marked
// degraded, so a store outage can slow abuse detection but never block a
// legitimate guest.
func (d *Detector) CheckBooking(ctx context.Context, userID, restaurantID string) *Assessment {
	ctx, span := traces.StartSpan(ctx, "fraud.check_booking",
		traces.UserID(userID), traces.RestaurantID(restaurantID))
	defer span.End()

	now := time.Now()
	a := &Assessment{
		ID:           idgen.WithPrefix("fraud_"),
		UserID:       userID,
		RestaurantID: restaurantID,
		EvaluatedAt:  now,
	}

	// Blacklist overrides every behavioral factor.
	blacklisted, err := d.store.IsBlacklisted(ctx, userID, restaurantID)
	if err != nil {
		d.logger.Warn("blacklist lookup failed", "user_id", userID, "error", err)
		a.Degraded = true
	} else if blacklisted {
		a.Score = 1.0
		a.Reasons = []string{ReasonBlacklisted}
		a.Allowed = false
		d.logAssessment(ctx, a)
		return a
	}

	var score float64

	if count, ok := d.count(ctx, a, userID, now.Add(-d.cfg.RapidWindow)); ok && count >= d.cfg.MaxRapidBookings {
		score += weightRapidBookings
		a.Reasons = append(a.Reasons, ReasonRapidBookings)
	}

	// Daily volume counts from local midnight, not a trailing 24 hours.
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if count, ok := d.count(ctx, a, userID, midnight); ok && count >= d.cfg.MaxBookingsPerDay {
		score += weightDailyLimit
		a.Reasons = append(a.Reasons, ReasonDailyLimit)
	}

	if count, ok := d.countStatus(ctx, a, userID, StatusCancelled, now.Add(-7*24*time.Hour)); ok && count >= d.cfg.MaxCancellationsPerWeek {
		score += weightCancellations
		a.Reasons = append(a.Reasons, ReasonCancellations)
	}

	if count, ok := d.countStatus(ctx, a, userID, StatusNoShow, now.Add(-30*24*time.Hour)); ok && count >= d.cfg.MaxNoShowsPerMonth {
		score += weightNoShows
		a.Reasons = append(a.Reasons, ReasonNoShows)
	}

	// The sum is deliberately uncapped: consumers see the raw accumulation
	// when several factors fire at once.
	a.Score = math.Round(score*1000) / 1000
	a.Allowed = a.Score < d.cfg.Threshold

	// Partial history is worse than none: a failed lookup wipes the whole
	// assessment rather than blocking on whichever factors happened to load.
	if a.Degraded {
		a.Score = 0
		a.Reasons = nil
		a.Allowed = true
	}
	span.SetAttributes(traces.RiskScore(a.Score))

	d.logAssessment(ctx, a)
	return a
}

func (d *Detector) count(ctx context.Context, a *Assessment, userID string, since time.Time) (int, bool) {
	count, err := d.store.CountBookingsSince(ctx, userID, since)
	if err != nil {
		d.logger.Warn("booking count failed", "user_id", userID, "error", err)
		a.Degraded = true
		return 0, false
	}
	return count, true
}

func (d *Detector) countStatus(ctx context.Context, a *Assessment, userID string, status BookingStatus, since time.Time) (int, bool) {
	count, err := d.store.CountByStatusSince(ctx, userID, status, since)
	if err != nil {
		d.logger.Warn("booking status count failed", "user_id", userID, "status", string(status), "error", err)
		a.Degraded = true
		return 0, false
	}
	return count, true
}

// logAssessment records high-risk assessments at warn level. The 0.5 floor
// keeps routine checks out of the log.
func (d *Detector) logAssessment(ctx context.Context, a *Assessment) {
	if a.Score < 0.5 {
		return
	}
	logger := d.logger
	if reqID := logging.RequestID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	logger.Warn("high-risk booking attempt",
		"user_id", a.UserID,
		"restaurant_id", a.RestaurantID,
		"score", a.Score,
		"reasons", a.Reasons,
		"allowed", a.Allowed,
		"degraded", a.Degraded,
	)
}
