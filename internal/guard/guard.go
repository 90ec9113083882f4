// Package guard composes the platform's trust checks around arbitrary
// operations: authentication, rate limiting, input sanitization, risk-flag
// checks, and failure monitoring. Business logic wraps its data-access calls
// once and gets the full security pipeline on every invocation.
package guard

import (
	"context"
	"errors"

	"github.com/plateful/doorman/internal/monitor"
	"github.com/plateful/doorman/internal/netinfo"
	"github.com/plateful/doorman/internal/ratelimit"
	"github.com/plateful/doorman/internal/sanitize"
	"github.com/plateful/doorman/internal/validation"
)

// Rejection errors. Messages are generic on purpose: they are shown to end
// users and must not reveal scoring internals.
var (
	ErrUnauthorized = errors.New("authentication required")
	ErrRateLimited  = errors.New("Rate limit exceeded. Please try again later.")
	ErrRestricted   = errors.New("Access restricted due to suspicious activity")
)

// Request carries the caller identity and arguments into a wrapped operation.
type Request struct {
	UserID string         // empty = anonymous
	Args   map[string]any // mutated in place when sanitization is enabled
	Net    netinfo.Info
}

// Operation is a unit of business logic guarded by the pipeline.
type Operation func(ctx context.Context, req Request) (any, error)

// Options selects which checks run around an operation.
type Options struct {
	RateLimitKey    string           // identifier override; defaults to the caller's user ID
	Action          ratelimit.Action // action-specific quota; empty uses the legacy bucket
	RateLimit       int              // legacy bucket limit when Action is empty; 0 disables rate limiting
	SanitizeArgs    bool
	ValidateInput   bool
	MonitorFailures bool
	RequireAuth     bool
	FraudCheck      bool // reject callers flagged at high risk
}

// Guard wires the pipeline's collaborators together.
type Guard struct {
	limiter   *ratelimit.Limiter
	monitor   *monitor.Monitor
	sanitizer *sanitize.Sanitizer
}

// New creates a Guard.
func New(limiter *ratelimit.Limiter, mon *monitor.Monitor, sanitizer *sanitize.Sanitizer) *Guard {
	return &Guard{
		limiter:   limiter,
		monitor:   mon,
		sanitizer: sanitizer,
	}
}

// Wrap returns op surrounded by the checks selected in opts. The wrapped
// operation's own errors pass through unchanged.
func (g *Guard) Wrap(name string, opts Options, op Operation) Operation {
	return func(ctx context.Context, req Request) (any, error) {
		if opts.RequireAuth && req.UserID == "" {
			g.monitor.Report(ctx, monitor.Event{
				Type:     monitor.ActivityUnauthorized,
				Metadata: monitor.GenericMetadata{"operation": name},
				Net:      req.Net,
			})
			return nil, ErrUnauthorized
		}

		if key := g.rateLimitKey(opts, req); key != "" {
			if !g.allowRate(key, opts) {
				// The limiter reports rapid_requests through its own Reporter.
				return nil, ErrRateLimited
			}
		}

		if opts.SanitizeArgs {
			req.Args = sanitizeArgs(g.sanitizer, req.Args)
		}

		if opts.ValidateInput {
			if err := validateArgs(req.Args); err != nil {
				g.monitor.Report(ctx, monitor.Event{
					Type:   monitor.ActivityInvalidInput,
					UserID: req.UserID,
					Metadata: monitor.InputMetadata{
						Operation: name,
						Error:     err.Error(),
					},
					Net: req.Net,
				})
				return nil, err
			}
		}

		if opts.FraudCheck && req.UserID != "" {
			if status := g.monitor.CheckUserFlags(ctx, req.UserID); status.RiskLevel == monitor.LevelHigh {
				return nil, ErrRestricted
			}
		}

		result, err := op(ctx, req)
		if err != nil && opts.MonitorFailures {
			g.monitor.Report(ctx, monitor.Event{
				Type:   monitor.ActivityInvalidInput,
				UserID: req.UserID,
				Metadata: monitor.InputMetadata{
					Operation: name,
					Error:     err.Error(),
					Args:      sanitize.ForLogging(req.Args),
				},
				Net: req.Net,
			})
		}
		return result, err
	}
}

func (g *Guard) rateLimitKey(opts Options, req Request) string {
	if opts.Action == "" && opts.RateLimit <= 0 {
		return ""
	}
	if opts.RateLimitKey != "" {
		return opts.RateLimitKey
	}
	if req.UserID != "" {
		return req.UserID
	}
	return req.Net.IPAddress
}

func (g *Guard) allowRate(key string, opts Options) bool {
	if opts.Action != "" {
		return g.limiter.CheckAction(key, opts.Action).Allowed
	}
	return g.limiter.Check(key, opts.RateLimit)
}

// sanitizeArgs recursively cleans every string in the argument tree.
func sanitizeArgs(s *sanitize.Sanitizer, v map[string]any) map[string]any {
	if v == nil {
		return nil
	}
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = sanitizeValue(s, val)
	}
	return out
}

func sanitizeValue(s *sanitize.Sanitizer, v any) any {
	switch val := v.(type) {
	case string:
		return s.Text(val, sanitize.TextOptions{})
	case map[string]any:
		return sanitizeArgs(s, val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(s, item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = s.Text(item, sanitize.TextOptions{})
		}
		return out
	default:
		return v
	}
}

// validateArgs rejects oversized string arguments anywhere in the tree.
func validateArgs(v any) error {
	switch val := v.(type) {
	case string:
		if len(val) > validation.MaxStringLength {
			return errors.New("input exceeds maximum length")
		}
	case map[string]any:
		for _, item := range val {
			if err := validateArgs(item); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range val {
			if err := validateArgs(item); err != nil {
				return err
			}
		}
	case []string:
		for _, item := range val {
			if err := validateArgs(item); err != nil {
				return err
			}
		}
	}
	return nil
}
