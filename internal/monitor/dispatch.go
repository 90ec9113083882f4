package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/plateful/doorman/internal/breadcrumb"
	"github.com/plateful/doorman/internal/idgen"
	"github.com/plateful/doorman/internal/metrics"
	"github.com/plateful/doorman/internal/traces"
)

// DefaultEscalationThreshold is the per-key event count that triggers an
// escalation.
const DefaultEscalationThreshold = 5

// anonymousKey is the counter key segment for events with no user.
const anonymousKey = "anonymous"

// Monitor receives suspicious-activity events and fans them out to the audit
// trail, the escalation store, the alerter, and the breadcrumb sink.
type Monitor struct {
	writer      *EventWriter
	escalations EscalationStore
	alerter     Alerter
	recorder    breadcrumb.Recorder
	logger      *slog.Logger
	threshold   int

	mu        sync.Mutex
	counters  map[string]int
	escalated map[string]bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithAlerter sets the user-facing alert sink.
func WithAlerter(a Alerter) Option {
	return func(m *Monitor) { m.alerter = a }
}

// WithRecorder sets the breadcrumb sink.
func WithRecorder(r breadcrumb.Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// WithThreshold overrides the escalation threshold.
func WithThreshold(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.threshold = n
		}
	}
}

// New creates a Monitor. The writer must be started separately.
func New(writer *EventWriter, escalations EscalationStore, opts ...Option) *Monitor {
	m := &Monitor{
		writer:      writer,
		escalations: escalations,
		logger:      slog.Default(),
		threshold:   DefaultEscalationThreshold,
		counters:    make(map[string]int),
		escalated:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Report processes one suspicious-activity event: counts it, enqueues an
// audit entry, dispatches the type-specific handler, and escalates the user
// if the repeat threshold is crossed. Never blocks on storage.
func (m *Monitor) Report(ctx context.Context, event Event) {
	if !event.Type.Valid() {
		m.logger.Warn("dropping event with unknown activity type", "type", string(event.Type))
		return
	}

	ctx, span := traces.StartSpan(ctx, "monitor.report",
		traces.ActivityType(string(event.Type)), traces.UserID(event.UserID))
	defer span.End()

	count := m.increment(event.Type, event.UserID)
	metrics.SecurityEventsTotal.WithLabelValues(string(event.Type)).Inc()

	entry := &AuditEntry{
		ID:           idgen.WithPrefix("evt_"),
		UserID:       event.UserID,
		RestaurantID: event.RestaurantID,
		ActivityType: event.Type,
		RiskScore:    RiskScore(event.Type),
		Details:      detailsJSON(event.Metadata),
		IPAddress:    event.Net.IPAddress,
		UserAgent:    event.Net.UserAgent,
		CreatedAt:    time.Now(),
	}
	m.writer.Send(entry)

	m.dispatch(ctx, event, entry)

	if m.recorder != nil {
		m.recorder.Record(ctx, "security", string(event.Type), map[string]any{
			"userId":    event.UserID,
			"riskScore": entry.RiskScore,
		})
	}

	if count >= m.threshold {
		m.escalate(ctx, event.Type, event.UserID)
	}
}

// dispatch runs the type-specific handler: a user-facing alert for
// high-severity types, a log line otherwise.
func (m *Monitor) dispatch(ctx context.Context, event Event, entry *AuditEntry) {
	if msg, ok := alertMessages[event.Type]; ok && event.UserID != "" && m.alerter != nil {
		m.alerter.Alert(ctx, event.UserID, msg)
		return
	}
	m.logger.Info("suspicious activity",
		"type", string(event.Type),
		"user_id", event.UserID,
		"risk_score", entry.RiskScore,
	)
}

// increment bumps the per-key counter and returns the new count.
func (m *Monitor) increment(t ActivityType, userID string) int {
	key := counterKey(t, userID)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key]
}

// escalate creates a single high-level escalation per counter key. A store
// failure is logged and retried on the next qualifying event.
func (m *Monitor) escalate(ctx context.Context, t ActivityType, userID string) {
	key := counterKey(t, userID)

	m.mu.Lock()
	already := m.escalated[key]
	m.mu.Unlock()
	if already {
		return
	}

	esc := &Escalation{
		ID:           idgen.WithPrefix("esc_"),
		UserID:       userID,
		ActivityType: t,
		Level:        LevelHigh,
		AutoFlagged:  true,
		CreatedAt:    time.Now(),
	}
	if esc.UserID == "" {
		esc.UserID = anonymousKey
	}

	if err := m.escalations.Create(ctx, esc); err != nil {
		m.logger.Error("failed to create escalation", "error", err, "user_id", esc.UserID, "type", string(t))
		return
	}

	m.mu.Lock()
	m.escalated[key] = true
	m.mu.Unlock()

	metrics.EscalationsTotal.WithLabelValues(string(t)).Inc()
	m.logger.Warn("user escalated for repeated suspicious activity",
		"user_id", esc.UserID,
		"type", string(t),
		"level", string(esc.Level),
	)
}

// CheckUserFlags reads unresolved escalations and derives the user's risk
// level and restrictions. Fails open: lookup errors yield an unflagged,
// low-risk status.
func (m *Monitor) CheckUserFlags(ctx context.Context, userID string) FlagStatus {
	escs, err := m.escalations.ListUnresolved(ctx, userID)
	if err != nil {
		m.logger.Error("escalation lookup failed, treating user as unflagged", "error", err, "user_id", userID)
		return FlagStatus{RiskLevel: LevelLow}
	}

	var mediums int
	for _, e := range escs {
		switch e.Level {
		case LevelHigh:
			return FlagStatus{
				IsFlagged: true,
				RiskLevel: LevelHigh,
				Restrictions: []string{
					"booking_restrictions",
					"review_restrictions",
					"limited_access",
				},
			}
		case LevelMedium:
			mediums++
		}
	}

	if mediums > 2 {
		return FlagStatus{
			IsFlagged: true,
			RiskLevel: LevelMedium,
			Restrictions: []string{
				"booking_review_required",
				"limited_bookings",
			},
		}
	}
	return FlagStatus{RiskLevel: LevelLow}
}

// ReportRateLimitExceeded implements the rate limiter's Reporter interface.
func (m *Monitor) ReportRateLimitExceeded(identifier, action string, count int) {
	metrics.RateLimitRejectionsTotal.WithLabelValues(action).Inc()
	m.Report(context.Background(), Event{
		Type:   ActivityRapidRequests,
		UserID: identifier,
		Metadata: RateLimitMetadata{
			Action: action,
			Count:  count,
		},
	})
}

func counterKey(t ActivityType, userID string) string {
	if userID == "" {
		userID = anonymousKey
	}
	return string(t) + ":" + userID
}
