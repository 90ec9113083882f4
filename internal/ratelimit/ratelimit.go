// Package ratelimit enforces per-action request quotas for the Doorman API.
//
// Counters are sliding fixed windows keyed by (action, identifier), held in
// process memory. A multi-instance deployment needs a shared store behind
// this; that is a documented limitation, not a bug.
package ratelimit

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Action names the operation categories with their own quotas.
type Action string

const (
	ActionBookingCreation Action = "booking_creation"
	ActionLoginAttempts   Action = "login_attempts"
	ActionRegistration    Action = "registration_attempts"
	ActionReviewSubmit    Action = "review_submission"
	ActionSearch          Action = "search"
	ActionProfileUpdate   Action = "profile_update"
)

// Quota is the request budget for one action.
type Quota struct {
	Requests int
	Window   time.Duration
}

// Config configures the limiter.
type Config struct {
	// Quotas maps action names to their budgets. Missing actions fall back
	// to DefaultLimit/DefaultWindow.
	Quotas map[Action]Quota
	// DefaultLimit is the legacy single-bucket quota.
	DefaultLimit int
	// DefaultWindow is the legacy single-bucket window.
	DefaultWindow time.Duration
	// CleanupInterval is how often expired counters are dropped.
	CleanupInterval time.Duration
}

// DefaultConfig returns the production quota table.
func DefaultConfig() Config {
	return Config{
		Quotas: map[Action]Quota{
			ActionBookingCreation: {Requests: 5, Window: 5 * time.Minute},
			ActionLoginAttempts:   {Requests: 5, Window: 15 * time.Minute},
			ActionRegistration:    {Requests: 3, Window: time.Hour},
			ActionReviewSubmit:    {Requests: 3, Window: 10 * time.Minute},
			ActionSearch:          {Requests: 100, Window: time.Minute},
			ActionProfileUpdate:   {Requests: 10, Window: 5 * time.Minute},
		},
		DefaultLimit:    100,
		DefaultWindow:   time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Reporter receives rate-limit violations. Implemented by monitor.Monitor.
type Reporter interface {
	ReportRateLimitExceeded(identifier string, action string, count int)
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool      `json:"allowed"`
	ResetAt time.Time `json:"resetAt,omitzero"`
}

// Status is read-only counter introspection.
type Status struct {
	Count   int       `json:"count"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"resetAt,omitzero"`
}

type counter struct {
	count   int
	resetAt time.Time
}

// Limiter tracks quota counters by action and identifier.
type Limiter struct {
	cfg      Config
	reporter Reporter
	mu       sync.Mutex
	counters map[string]*counter
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a rate limiter and starts its cleanup goroutine.
func New(cfg Config, reporter Reporter) *Limiter {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 100
	}
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:      cfg,
		reporter: reporter,
		counters: make(map[string]*counter),
		stop:     make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// cleanup drops expired counters periodically.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for key, c := range l.counters {
				if now.After(c.resetAt) {
					delete(l.counters, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// quotaFor resolves the budget for an action.
func (l *Limiter) quotaFor(action Action) Quota {
	if q, ok := l.cfg.Quotas[action]; ok {
		return q
	}
	return Quota{Requests: l.cfg.DefaultLimit, Window: l.cfg.DefaultWindow}
}

// CheckAction checks and consumes one request against an action quota.
// When the quota is exhausted the decision carries the window's original
// reset time — the window is never extended by rejected requests.
func (l *Limiter) CheckAction(identifier string, action Action) Decision {
	quota := l.quotaFor(action)
	key := fmt.Sprintf("%s:%s", action, identifier)
	now := time.Now()

	l.mu.Lock()
	c, ok := l.counters[key]
	if !ok || !now.Before(c.resetAt) {
		l.counters[key] = &counter{count: 1, resetAt: now.Add(quota.Window)}
		l.mu.Unlock()
		return Decision{Allowed: true}
	}

	if c.count >= quota.Requests {
		count, resetAt := c.count, c.resetAt
		l.mu.Unlock()
		if l.reporter != nil {
			l.reporter.ReportRateLimitExceeded(identifier, string(action), count)
		}
		return Decision{Allowed: false, ResetAt: resetAt}
	}

	c.count++
	l.mu.Unlock()
	return Decision{Allowed: true}
}

// Check is the legacy single-bucket variant: one global window, a caller
// supplied limit. Kept for call sites that predate per-action quotas.
func (l *Limiter) Check(identifier string, limit int) bool {
	if limit <= 0 {
		limit = l.cfg.DefaultLimit
	}
	key := "legacy:" + identifier
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok || !now.Before(c.resetAt) {
		l.counters[key] = &counter{count: 1, resetAt: now.Add(l.cfg.DefaultWindow)}
		return true
	}
	if c.count >= limit {
		return false
	}
	c.count++
	return true
}

// Reset clears one counter. An empty action clears the legacy bucket.
func (l *Limiter) Reset(identifier string, action Action) {
	key := "legacy:" + identifier
	if action != "" {
		key = fmt.Sprintf("%s:%s", action, identifier)
	}
	l.mu.Lock()
	delete(l.counters, key)
	l.mu.Unlock()
}

// Status returns the current counter state without consuming a request.
// Zero values when no counter exists yet.
func (l *Limiter) Status(identifier string, action Action) Status {
	quota := l.quotaFor(action)
	key := fmt.Sprintf("%s:%s", action, identifier)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok || !time.Now().Before(c.resetAt) {
		return Status{Count: 0, Limit: quota.Requests}
	}
	return Status{Count: c.count, Limit: quota.Requests, ResetAt: c.resetAt}
}

// Middleware returns a gin middleware that rate limits by client IP through
// the legacy bucket.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		// Authenticated callers get their own bucket
		if apiKey := c.GetHeader("Authorization"); apiKey != "" {
			key = "auth:" + apiKey[:min(20, len(apiKey))]
		}

		if !l.Check(key, l.cfg.DefaultLimit) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Rate limit exceeded. Please try again later.",
				"retry_after": 1,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
