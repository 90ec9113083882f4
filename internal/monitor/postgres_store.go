package monitor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresAuditStore persists audit entries in PostgreSQL.
type PostgresAuditStore struct {
	db *sql.DB
}

// NewPostgresAuditStore creates a PostgreSQL-backed audit store.
func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

// Migrate creates the security_audit_log table if it doesn't exist.
func (s *PostgresAuditStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS security_audit_log (
			id            VARCHAR(36) PRIMARY KEY,
			user_id       VARCHAR(64),
			restaurant_id VARCHAR(64),
			activity_type VARCHAR(32) NOT NULL,
			risk_score    INTEGER NOT NULL CHECK (risk_score >= 0 AND risk_score <= 100),
			details       JSONB,
			ip_address    VARCHAR(45),
			user_agent    TEXT,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_security_audit_user
			ON security_audit_log (user_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_security_audit_recent
			ON security_audit_log (created_at DESC);
	`)
	return err
}

// AppendBatch inserts a batch of entries using the COPY protocol.
func (s *PostgresAuditStore) AppendBatch(ctx context.Context, entries []*AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("security_audit_log",
		"id", "user_id", "restaurant_id", "activity_type", "risk_score",
		"details", "ip_address", "user_agent", "created_at",
	))
	if err != nil {
		return fmt.Errorf("failed to prepare audit copy: %w", err)
	}

	for _, e := range entries {
		var details any
		if len(e.Details) > 0 {
			details = string(e.Details)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, nullable(e.UserID), nullable(e.RestaurantID), string(e.ActivityType),
			e.RiskScore, details, nullable(e.IPAddress), nullable(e.UserAgent), e.CreatedAt,
		); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to buffer audit entry: %w", err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("failed to flush audit batch: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close audit copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit batch: %w", err)
	}
	return nil
}

func (s *PostgresAuditStore) ListByUser(ctx context.Context, userID string, limit int, opts ...ListOption) ([]*AuditEntry, error) {
	o := applyListOpts(opts)
	query := `
		SELECT id, COALESCE(user_id, ''), COALESCE(restaurant_id, ''), activity_type,
		       risk_score, COALESCE(details, 'null'), COALESCE(ip_address, ''),
		       COALESCE(user_agent, ''), created_at
		FROM security_audit_log
		WHERE user_id = $1`
	args := []any{userID}
	if o.cursor != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, o.cursor.CreatedAt, o.cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return scanAuditRows(rows)
}

func (s *PostgresAuditStore) ListRecent(ctx context.Context, limit int, opts ...ListOption) ([]*AuditEntry, error) {
	o := applyListOpts(opts)
	query := `
		SELECT id, COALESCE(user_id, ''), COALESCE(restaurant_id, ''), activity_type,
		       risk_score, COALESCE(details, 'null'), COALESCE(ip_address, ''),
		       COALESCE(user_agent, ''), created_at
		FROM security_audit_log`
	args := []any{}
	if o.cursor != nil {
		query += ` WHERE (created_at, id) < ($1, $2)`
		args = append(args, o.cursor.CreatedAt, o.cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return scanAuditRows(rows)
}

func scanAuditRows(rows *sql.Rows) ([]*AuditEntry, error) {
	defer func() { _ = rows.Close() }()

	var result []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var details string
		if err := rows.Scan(&e.ID, &e.UserID, &e.RestaurantID, &e.ActivityType,
			&e.RiskScore, &details, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			continue
		}
		if details != "" && details != "null" {
			e.Details = []byte(details)
		}
		result = append(result, &e)
	}
	return result, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// PostgresEscalationStore persists escalations in PostgreSQL.
type PostgresEscalationStore struct {
	db *sql.DB
}

// NewPostgresEscalationStore creates a PostgreSQL-backed escalation store.
func NewPostgresEscalationStore(db *sql.DB) *PostgresEscalationStore {
	return &PostgresEscalationStore{db: db}
}

// Migrate creates the security_escalations table if it doesn't exist.
func (s *PostgresEscalationStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS security_escalations (
			id            VARCHAR(36) PRIMARY KEY,
			user_id       VARCHAR(64) NOT NULL,
			activity_type VARCHAR(32) NOT NULL,
			level         VARCHAR(8) NOT NULL CHECK (level IN ('low', 'medium', 'high')),
			auto_flagged  BOOLEAN NOT NULL DEFAULT FALSE,
			resolved      BOOLEAN NOT NULL DEFAULT FALSE,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_security_escalations_user
			ON security_escalations (user_id) WHERE NOT resolved;
	`)
	return err
}

func (s *PostgresEscalationStore) Create(ctx context.Context, e *Escalation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_escalations (id, user_id, activity_type, level, auto_flagged, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.UserID, string(e.ActivityType), string(e.Level), e.AutoFlagged, e.Resolved, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create escalation: %w", err)
	}
	return nil
}

func (s *PostgresEscalationStore) ListUnresolved(ctx context.Context, userID string) ([]*Escalation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, activity_type, level, auto_flagged, resolved, created_at
		FROM security_escalations
		WHERE user_id = $1 AND NOT resolved
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Escalation
	for rows.Next() {
		var e Escalation
		if err := rows.Scan(&e.ID, &e.UserID, &e.ActivityType, &e.Level,
			&e.AutoFlagged, &e.Resolved, &e.CreatedAt); err != nil {
			continue
		}
		result = append(result, &e)
	}
	return result, nil
}

func (s *PostgresEscalationStore) Resolve(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE security_escalations SET resolved = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve escalation: %w", err)
	}
	return nil
}
