package fraud

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists booking history and blacklists in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed booking history store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the booking history tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS booking_history (
			id            VARCHAR(64) PRIMARY KEY,
			user_id       VARCHAR(64) NOT NULL,
			restaurant_id VARCHAR(64) NOT NULL,
			status        VARCHAR(16) NOT NULL CHECK (status IN ('confirmed', 'completed', 'cancelled', 'no_show')),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_booking_history_user
			ON booking_history (user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS restaurant_blacklist (
			user_id       VARCHAR(64) NOT NULL,
			restaurant_id VARCHAR(64) NOT NULL,
			reason        TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, restaurant_id)
		);
	`)
	return err
}

func (s *PostgresStore) RecordBooking(ctx context.Context, b *Booking) error {
	status := b.Status
	if status == "" {
		status = StatusConfirmed
	}
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO booking_history (id, user_id, restaurant_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, b.ID, b.UserID, b.RestaurantID, string(status), createdAt)
	if err != nil {
		return fmt.Errorf("failed to record booking: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetBookingStatus(ctx context.Context, bookingID string, status BookingStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE booking_history SET status = $2 WHERE id = $1
	`, bookingID, string(status))
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountBookingsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM booking_history
		WHERE user_id = $1 AND created_at > $2
	`, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountByStatusSince(ctx context.Context, userID string, status BookingStatus, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM booking_history
		WHERE user_id = $1 AND status = $2 AND created_at > $3
	`, userID, string(status), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bookings by status: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) IsBlacklisted(ctx context.Context, userID, restaurantID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM restaurant_blacklist
			WHERE user_id = $1 AND restaurant_id = $2
		)
	`, userID, restaurantID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) AddToBlacklist(ctx context.Context, userID, restaurantID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO restaurant_blacklist (user_id, restaurant_id, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, restaurant_id) DO UPDATE SET reason = EXCLUDED.reason
	`, userID, restaurantID, reason)
	if err != nil {
		return fmt.Errorf("failed to add blacklist entry: %w", err)
	}
	return nil
}
