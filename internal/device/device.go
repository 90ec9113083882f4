// Package device tracks device fingerprints and enforces the per-device
// account cap that limits throwaway account creation.
package device

import (
	"context"
	"log/slog"
	"time"

	"github.com/plateful/doorman/internal/idgen"
)

// Registration links a user account to a device fingerprint.
type Registration struct {
	Fingerprint string    `json:"fingerprint"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CheckResult reports whether a device may register another account.
type CheckResult struct {
	Allowed      bool `json:"allowed"`
	AccountCount int  `json:"accountCount"`
	Limit        int  `json:"limit"`
}

// FingerprintStore persists device-to-account links.
type FingerprintStore interface {
	Register(ctx context.Context, fingerprint, userID string) error
	CountAccounts(ctx context.Context, fingerprint string) (int, error)
	ListAccounts(ctx context.Context, fingerprint string) ([]*Registration, error)
}

// DefaultMaxAccounts is the default per-device account cap.
const DefaultMaxAccounts = 3

// Manager generates fingerprints and enforces the account cap.
type Manager struct {
	store       FingerprintStore
	maxAccounts int
	logger      *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for degraded checks.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMaxAccounts overrides the per-device account cap.
func WithMaxAccounts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAccounts = n
		}
	}
}

// NewManager creates a device manager backed by the given store.
func NewManager(store FingerprintStore, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		maxAccounts: DefaultMaxAccounts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Fingerprint generates a new opaque device identifier. Clients persist it
// locally and present it on registration.
func (m *Manager) Fingerprint() string {
	return idgen.Timestamped("device")
}

// CheckAccountLimit reports whether the device may register another account.
// Fails open: if the store is unavailable the registration is allowed and the
// failure is logged.
func (m *Manager) CheckAccountLimit(ctx context.Context, fingerprint string) CheckResult {
	count, err := m.store.CountAccounts(ctx, fingerprint)
	if err != nil {
		m.logger.Error("device account check failed, allowing", "error", err)
		return CheckResult{Allowed: true, Limit: m.maxAccounts}
	}
	return CheckResult{
		Allowed:      count < m.maxAccounts,
		AccountCount: count,
		Limit:        m.maxAccounts,
	}
}

// RegisterAccount links a user to a device fingerprint. Registering the same
// pair twice is a no-op.
func (m *Manager) RegisterAccount(ctx context.Context, fingerprint, userID string) error {
	return m.store.Register(ctx, fingerprint, userID)
}
