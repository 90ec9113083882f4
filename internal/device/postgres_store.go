package device

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists device registrations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed fingerprint store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the device_accounts table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS device_accounts (
			fingerprint VARCHAR(64) NOT NULL,
			user_id     VARCHAR(64) NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (fingerprint, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_device_accounts_user
			ON device_accounts (user_id);
	`)
	return err
}

func (s *PostgresStore) Register(ctx context.Context, fingerprint, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_accounts (fingerprint, user_id)
		VALUES ($1, $2)
		ON CONFLICT (fingerprint, user_id) DO NOTHING
	`, fingerprint, userID)
	if err != nil {
		return fmt.Errorf("failed to register device account: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountAccounts(ctx context.Context, fingerprint string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM device_accounts WHERE fingerprint = $1
	`, fingerprint).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count device accounts: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, fingerprint string) ([]*Registration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, user_id, created_at
		FROM device_accounts
		WHERE fingerprint = $1
		ORDER BY created_at
	`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to list device accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Registration
	for rows.Next() {
		var r Registration
		if err := rows.Scan(&r.Fingerprint, &r.UserID, &r.CreatedAt); err != nil {
			continue
		}
		result = append(result, &r)
	}
	return result, nil
}
