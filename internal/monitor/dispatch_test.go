package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *recordingAlerter) Alert(ctx context.Context, userID, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, userID+": "+message)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

func newTestMonitor(t *testing.T, opts ...Option) (*Monitor, *MemoryAuditStore, *MemoryEscalationStore) {
	t.Helper()
	audit := NewMemoryAuditStore()
	escs := NewMemoryEscalationStore()
	writer := NewEventWriter(audit, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go writer.Start(ctx)
	t.Cleanup(cancel)
	return New(writer, escs, opts...), audit, escs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestReport_PersistsAuditEntry(t *testing.T) {
	m, audit, _ := newTestMonitor(t)

	m.Report(context.Background(), Event{
		Type:   ActivityBookingFraud,
		UserID: "user-1",
		Metadata: FraudMetadata{
			RestaurantID: "rest-1",
			Score:        0.9,
			Reasons:      []string{"excessive_no_shows"},
		},
	})

	waitFor(t, func() bool { return audit.Len() == 1 })

	entries, err := audit.ListByUser(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	e := entries[0]
	if e.ActivityType != ActivityBookingFraud {
		t.Errorf("Unexpected activity type: %s", e.ActivityType)
	}
	if e.RiskScore != 90 {
		t.Errorf("Expected risk score 90, got %d", e.RiskScore)
	}
	if !strings.Contains(string(e.Details), `"kind":"fraud"`) {
		t.Errorf("Expected tagged details, got %s", e.Details)
	}
}

func TestReport_UnknownTypeDropped(t *testing.T) {
	m, audit, _ := newTestMonitor(t)

	m.Report(context.Background(), Event{Type: ActivityType("made_up"), UserID: "user-1"})

	time.Sleep(50 * time.Millisecond)
	if audit.Len() != 0 {
		t.Error("Expected unknown activity type to be dropped")
	}
}

func TestReport_EscalatesAtThreshold(t *testing.T) {
	m, _, escs := newTestMonitor(t)

	for i := 0; i < 5; i++ {
		m.Report(context.Background(), Event{Type: ActivityInvalidInput, UserID: "user-1"})
	}

	all := escs.All()
	if len(all) != 1 {
		t.Fatalf("Expected exactly 1 escalation, got %d", len(all))
	}
	esc := all[0]
	if esc.Level != LevelHigh {
		t.Errorf("Expected high level, got %s", esc.Level)
	}
	if !esc.AutoFlagged {
		t.Error("Expected escalation to be auto-flagged")
	}

	// A 6th report must not create a second escalation
	m.Report(context.Background(), Event{Type: ActivityInvalidInput, UserID: "user-1"})
	if len(escs.All()) != 1 {
		t.Error("Expected no duplicate escalation for the same counter key")
	}
}

func TestReport_CountersAreKeyedByTypeAndUser(t *testing.T) {
	m, _, escs := newTestMonitor(t)

	// 4 events each across different keys: no escalation
	for i := 0; i < 4; i++ {
		m.Report(context.Background(), Event{Type: ActivityInvalidInput, UserID: "user-1"})
		m.Report(context.Background(), Event{Type: ActivityReviewSpam, UserID: "user-1"})
		m.Report(context.Background(), Event{Type: ActivityInvalidInput, UserID: "user-2"})
	}

	if len(escs.All()) != 0 {
		t.Errorf("Expected no escalations below threshold, got %d", len(escs.All()))
	}
}

func TestReport_AnonymousEvents(t *testing.T) {
	m, _, escs := newTestMonitor(t)

	for i := 0; i < 5; i++ {
		m.Report(context.Background(), Event{Type: ActivityRapidRequests})
	}

	all := escs.All()
	if len(all) != 1 {
		t.Fatalf("Expected anonymous events to escalate too, got %d", len(all))
	}
	if all[0].UserID != "anonymous" {
		t.Errorf("Expected anonymous user key, got %q", all[0].UserID)
	}
}

func TestReport_AlertsHighSeverityTypes(t *testing.T) {
	alerter := &recordingAlerter{}
	m, _, _ := newTestMonitor(t, WithAlerter(alerter))

	m.Report(context.Background(), Event{Type: ActivityUnauthorized, UserID: "user-1"})
	if alerter.count() != 1 {
		t.Errorf("Expected 1 alert for unauthorized access, got %d", alerter.count())
	}

	// Low-severity types log silently
	m.Report(context.Background(), Event{Type: ActivityInvalidInput, UserID: "user-1"})
	if alerter.count() != 1 {
		t.Errorf("Expected no alert for invalid input, got %d", alerter.count())
	}

	// Anonymous events cannot be alerted
	m.Report(context.Background(), Event{Type: ActivityUnauthorized})
	if alerter.count() != 1 {
		t.Errorf("Expected no alert for anonymous event, got %d", alerter.count())
	}
}

func TestCheckUserFlags(t *testing.T) {
	m, _, escs := newTestMonitor(t)
	ctx := context.Background()

	// Clean user
	status := m.CheckUserFlags(ctx, "user-1")
	if status.IsFlagged || status.RiskLevel != LevelLow {
		t.Errorf("Expected low risk for clean user, got %+v", status)
	}

	// High escalation dominates
	_ = escs.Create(ctx, &Escalation{ID: "esc-1", UserID: "user-1", ActivityType: ActivityBookingFraud, Level: LevelHigh})
	status = m.CheckUserFlags(ctx, "user-1")
	if !status.IsFlagged || status.RiskLevel != LevelHigh {
		t.Errorf("Expected high risk, got %+v", status)
	}
	if len(status.Restrictions) != 3 {
		t.Errorf("Expected 3 restrictions, got %v", status.Restrictions)
	}

	// More than 2 mediums => medium
	for _, id := range []string{"esc-2", "esc-3", "esc-4"} {
		_ = escs.Create(ctx, &Escalation{ID: id, UserID: "user-2", ActivityType: ActivityReviewSpam, Level: LevelMedium})
	}
	status = m.CheckUserFlags(ctx, "user-2")
	if status.RiskLevel != LevelMedium {
		t.Errorf("Expected medium risk, got %+v", status)
	}

	// Exactly 2 mediums is still low
	for _, id := range []string{"esc-5", "esc-6"} {
		_ = escs.Create(ctx, &Escalation{ID: id, UserID: "user-3", ActivityType: ActivityReviewSpam, Level: LevelMedium})
	}
	status = m.CheckUserFlags(ctx, "user-3")
	if status.RiskLevel != LevelLow {
		t.Errorf("Expected low risk for 2 mediums, got %+v", status)
	}

	// Resolved escalations are ignored
	_ = escs.Resolve(ctx, "esc-1")
	status = m.CheckUserFlags(ctx, "user-1")
	if status.IsFlagged {
		t.Errorf("Expected resolved escalation to be ignored, got %+v", status)
	}
}

func TestCheckUserFlags_FailsOpen(t *testing.T) {
	m, _, escs := newTestMonitor(t)

	escs.FailWith(errors.New("connection refused"))

	status := m.CheckUserFlags(context.Background(), "user-1")
	if status.IsFlagged || status.RiskLevel != LevelLow {
		t.Errorf("Expected fail-open status, got %+v", status)
	}
}

func TestReportRateLimitExceeded(t *testing.T) {
	m, audit, _ := newTestMonitor(t)

	m.ReportRateLimitExceeded("user-1", "booking_creation", 6)

	waitFor(t, func() bool { return audit.Len() == 1 })
	entries, _ := audit.ListByUser(context.Background(), "user-1", 1)
	if entries[0].ActivityType != ActivityRapidRequests {
		t.Errorf("Expected rapid_requests entry, got %s", entries[0].ActivityType)
	}
}

func TestDetailsJSON_RedactsSensitiveKeys(t *testing.T) {
	raw := detailsJSON(GenericMetadata{
		"email":    "user@example.com",
		"password": "hunter2",
	})

	var decoded struct {
		Kind string         `json:"kind"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Kind != "generic" {
		t.Errorf("Expected generic kind, got %q", decoded.Kind)
	}
	if decoded.Data["password"] != "[REDACTED]" {
		t.Errorf("Expected password redacted, got %v", decoded.Data["password"])
	}
}

func TestRiskScoreTable(t *testing.T) {
	if RiskScore(ActivityUnauthorized) != 80 {
		t.Errorf("Expected 80 for unauthorized access")
	}
	if RiskScore(ActivityBookingFraud) != 90 {
		t.Errorf("Expected 90 for booking fraud")
	}
	if RiskScore(ActivityInvalidInput) != 30 {
		t.Errorf("Expected 30 for invalid input")
	}
}
