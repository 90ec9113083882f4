// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Security
	APIKeyHash string // For authenticating API clients
	AdminKey   string // Admin API key (reset endpoints, flag review)

	// Rate limiting
	RateLimitRPS int // Fallback per-client limit for the HTTP middleware

	// Fraud thresholds
	Fraud FraudConfig

	// Device / account limits
	MaxAccountsPerDevice int

	// Content validation limits
	MaxContentLength int
	MaxNameLength    int

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)
}

// FraudConfig holds the booking-abuse thresholds used by fraud detection.
type FraudConfig struct {
	MaxBookingsPerDay          int
	MaxCancellationsPerWeek    int
	MaxNoShowsPerMonth         int
	SuspiciousPatternThreshold float64
	RapidBookingWindow         time.Duration
	MaxRapidBookings           int
}

// Defaults
const (
	DefaultPort                 = "8080"
	DefaultEnv                  = "development"
	DefaultLogLevel             = "info"
	DefaultRateLimit            = 100
	DefaultMaxAccountsPerDevice = 3
	DefaultMaxContentLength     = 10000
	DefaultMaxNameLength        = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		APIKeyHash:           os.Getenv("API_KEY_HASH"),
		AdminKey:             os.Getenv("ADMIN_KEY"),
		RateLimitRPS:         int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		MaxAccountsPerDevice: int(getEnvInt64("MAX_ACCOUNTS_PER_DEVICE", DefaultMaxAccountsPerDevice)),
		MaxContentLength:     int(getEnvInt64("MAX_CONTENT_LENGTH", DefaultMaxContentLength)),
		MaxNameLength:        int(getEnvInt64("MAX_NAME_LENGTH", DefaultMaxNameLength)),
		OTLPEndpoint:         os.Getenv("OTLP_ENDPOINT"),
		Fraud: FraudConfig{
			MaxBookingsPerDay:          int(getEnvInt64("FRAUD_MAX_BOOKINGS_PER_DAY", 10)),
			MaxCancellationsPerWeek:    int(getEnvInt64("FRAUD_MAX_CANCELLATIONS_PER_WEEK", 5)),
			MaxNoShowsPerMonth:         int(getEnvInt64("FRAUD_MAX_NO_SHOWS_PER_MONTH", 3)),
			SuspiciousPatternThreshold: getEnvFloat("FRAUD_SUSPICIOUS_THRESHOLD", 0.7),
			RapidBookingWindow:         getEnvDuration("FRAUD_RAPID_BOOKING_WINDOW", 5*time.Minute),
			MaxRapidBookings:           int(getEnvInt64("FRAUD_MAX_RAPID_BOOKINGS", 3)),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are sane
func (c *Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive")
	}
	if c.MaxAccountsPerDevice <= 0 {
		return fmt.Errorf("MAX_ACCOUNTS_PER_DEVICE must be positive")
	}
	if c.Fraud.SuspiciousPatternThreshold <= 0 || c.Fraud.SuspiciousPatternThreshold > 1 {
		return fmt.Errorf("FRAUD_SUSPICIOUS_THRESHOLD must be in (0, 1]")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
