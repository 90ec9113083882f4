// Package monitor is the central dispatcher for suspicious-activity events.
//
// Callers report typed events; the monitor persists an append-only audit
// trail, counts repeat offenses per user, escalates users who cross the
// repeat threshold, and surfaces user-facing alerts for high-severity types.
// Audit writes are batched asynchronously so reporting never blocks the
// caller.
package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/plateful/doorman/internal/netinfo"
	"github.com/plateful/doorman/internal/pagination"
	"github.com/plateful/doorman/internal/sanitize"
)

// ActivityType is the closed set of monitored suspicious activities.
type ActivityType string

const (
	ActivityFailedLogins     ActivityType = "multiple_failed_logins"
	ActivityRapidRequests    ActivityType = "rapid_requests"
	ActivityInvalidInput     ActivityType = "invalid_input"
	ActivityUnauthorized     ActivityType = "unauthorized_access"
	ActivityBookingFraud     ActivityType = "booking_fraud"
	ActivityReviewSpam       ActivityType = "review_spam"
	ActivityAccountAbuse     ActivityType = "account_abuse"
	ActivityDataManipulation ActivityType = "data_manipulation"
)

// riskScores maps each activity type to a fixed risk score (0-100).
var riskScores = map[ActivityType]int{
	ActivityFailedLogins:     70,
	ActivityRapidRequests:    50,
	ActivityInvalidInput:     30,
	ActivityUnauthorized:     80,
	ActivityBookingFraud:     90,
	ActivityReviewSpam:       60,
	ActivityAccountAbuse:     80,
	ActivityDataManipulation: 90,
}

// alertMessages holds the user-facing alert text for high-severity types.
// Messages are deliberately generic and never reveal detection internals.
var alertMessages = map[ActivityType]string{
	ActivityFailedLogins: "We noticed unusual sign-in activity on your account. Please verify it was you.",
	ActivityUnauthorized: "Access restricted due to suspicious activity.",
	ActivityAccountAbuse: "Your account has been limited pending a review.",
}

// RiskScore returns the fixed risk score for an activity type.
func RiskScore(t ActivityType) int {
	return riskScores[t]
}

// Valid reports whether t is a known activity type.
func (t ActivityType) Valid() bool {
	_, ok := riskScores[t]
	return ok
}

// EscalationLevel classifies an escalation's severity.
type EscalationLevel string

const (
	LevelLow    EscalationLevel = "low"
	LevelMedium EscalationLevel = "medium"
	LevelHigh   EscalationLevel = "high"
)

// Event is a single reported suspicious activity.
type Event struct {
	Type         ActivityType `json:"type"`
	UserID       string       `json:"userId,omitempty"` // empty = anonymous
	RestaurantID string       `json:"restaurantId,omitempty"`
	Metadata     Metadata     `json:"metadata,omitempty"`
	Net          netinfo.Info `json:"net,omitempty"`
}

// AuditEntry is one persisted row of the security audit trail. Append-only.
type AuditEntry struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId,omitempty"`
	RestaurantID string          `json:"restaurantId,omitempty"`
	ActivityType ActivityType    `json:"activityType"`
	RiskScore    int             `json:"riskScore"` // 0-100
	Details      json.RawMessage `json:"details,omitempty"`
	IPAddress    string          `json:"ipAddress,omitempty"`
	UserAgent    string          `json:"userAgent,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Escalation marks a user as having crossed the repeat-offense threshold.
type Escalation struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	ActivityType ActivityType    `json:"activityType"`
	Level        EscalationLevel `json:"level"`
	AutoFlagged  bool            `json:"autoFlagged"`
	Resolved     bool            `json:"resolved"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// FlagStatus is the result of a user risk lookup.
type FlagStatus struct {
	IsFlagged    bool            `json:"isFlagged"`
	RiskLevel    EscalationLevel `json:"riskLevel"`
	Restrictions []string        `json:"restrictions,omitempty"`
}

// ListOption configures optional parameters for audit list queries.
type ListOption func(*listOpts)

type listOpts struct {
	cursor *pagination.Cursor
}

func applyListOpts(opts []ListOption) listOpts {
	var o listOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithCursor filters results to entries older than the given cursor position.
func WithCursor(cursor string) ListOption {
	return func(o *listOpts) {
		c, err := pagination.Decode(cursor)
		if err == nil {
			o.cursor = c
		}
	}
}

// AuditStore persists audit entries.
type AuditStore interface {
	AppendBatch(ctx context.Context, entries []*AuditEntry) error
	ListByUser(ctx context.Context, userID string, limit int, opts ...ListOption) ([]*AuditEntry, error)
	ListRecent(ctx context.Context, limit int, opts ...ListOption) ([]*AuditEntry, error)
}

// EscalationStore persists escalations.
type EscalationStore interface {
	Create(ctx context.Context, e *Escalation) error
	ListUnresolved(ctx context.Context, userID string) ([]*Escalation, error)
	Resolve(ctx context.Context, id string) error
}

// Alerter surfaces user-facing alerts for high-severity events. The monitor
// decides that an alert should fire and supplies the message; rendering is
// the implementation's concern.
type Alerter interface {
	Alert(ctx context.Context, userID, message string)
}

// Metadata is the typed payload attached to an event. Each activity type has
// its own variant; GenericMetadata is the catch-all.
type Metadata interface {
	Kind() string
}

// LoginMetadata accompanies multiple_failed_logins events.
type LoginMetadata struct {
	Email        string `json:"email,omitempty"`
	AttemptCount int    `json:"attemptCount,omitempty"`
}

func (LoginMetadata) Kind() string { return "login" }

// RateLimitMetadata accompanies rapid_requests events.
type RateLimitMetadata struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

func (RateLimitMetadata) Kind() string { return "rate_limit" }

// InputMetadata accompanies invalid_input events. Args must be sanitized by
// the caller before attaching; the monitor redacts sensitive keys again at
// persist time.
type InputMetadata struct {
	Operation string `json:"operation,omitempty"`
	Error     string `json:"error,omitempty"`
	Args      any    `json:"args,omitempty"`
}

func (InputMetadata) Kind() string { return "input" }

// FraudMetadata accompanies booking_fraud events.
type FraudMetadata struct {
	RestaurantID string   `json:"restaurantId,omitempty"`
	Score        float64  `json:"score"`
	Reasons      []string `json:"reasons,omitempty"`
}

func (FraudMetadata) Kind() string { return "fraud" }

// AccountMetadata accompanies account_abuse events.
type AccountMetadata struct {
	Fingerprint  string `json:"fingerprint,omitempty"`
	AccountCount int    `json:"accountCount,omitempty"`
}

func (AccountMetadata) Kind() string { return "account" }

// GenericMetadata is the forward-compatible catch-all variant.
type GenericMetadata map[string]any

func (GenericMetadata) Kind() string { return "generic" }

// detailsJSON encodes metadata as {"kind": ..., "data": ...} with sensitive
// values redacted.
func detailsJSON(m Metadata) json.RawMessage {
	if m == nil {
		return nil
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	data = sanitize.ForLogging(data)

	out, err := json.Marshal(map[string]any{
		"kind": m.Kind(),
		"data": data,
	})
	if err != nil {
		return nil
	}
	return out
}
