package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/plateful/doorman/internal/config"
	"github.com/plateful/doorman/internal/fraud"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:         "0",
		Env:          "development",
		LogLevel:     "error",
		AdminKey:     "admin-test-key",
		RateLimitRPS: 10000,
		Fraud: config.FraudConfig{
			MaxBookingsPerDay:          10,
			MaxCancellationsPerWeek:    5,
			MaxNoShowsPerMonth:         3,
			SuspiciousPatternThreshold: 0.7,
			RapidBookingWindow:         5 * time.Minute,
			MaxRapidBookings:           3,
		},
		MaxAccountsPerDevice: 3,
		MaxContentLength:     1000,
		MaxNameLength:        100,
	}
}

// newTestServer creates an in-memory server with the audit writer running
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go s.eventWriter.Start(ctx)
	t.Cleanup(cancel)

	deadline := time.Now().Add(2 * time.Second)
	for !s.eventWriter.Running() {
		if time.Now().After(deadline) {
			t.Fatal("event writer did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	return s
}

func doJSON(s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func parseBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
	return resp
}

// apiKeyFor generates an API key for a user and returns the auth header value
func apiKeyFor(t *testing.T, s *Server, userID string) string {
	t.Helper()
	rawKey, _, err := s.authMgr.GenerateKey(context.Background(), userID, "test-key")
	if err != nil {
		t.Fatalf("Failed to generate API key: %v", err)
	}
	return rawKey
}

// ---------------------------------------------------------------------------
// Health endpoints
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/healthz", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := parseBody(t, w)
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestReadinessEndpoint_NotReadyBeforeRun(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/readyz", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before Run, got %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/api", nil, nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID response header")
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/api", nil, nil)
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("Expected X-Content-Type-Options: nosniff")
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("Expected X-Frame-Options: DENY")
	}
}

// ---------------------------------------------------------------------------
// Moderation endpoints
// ---------------------------------------------------------------------------

func TestModerationCheck_CleanText(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "POST", "/v1/moderation/check", gin.H{"text": "this class is great"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := parseBody(t, w)
	if resp["hasProfanity"] != false {
		t.Errorf("Expected clean text, got %v", resp["hasProfanity"])
	}
}

func TestModerationCheck_MissingText(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "POST", "/v1/moderation/check", gin.H{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestModerationValidate_TooShort(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "POST", "/v1/moderation/validate", gin.H{
		"text":      "hi",
		"fieldName": "review",
		"minLength": 10,
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	resp := parseBody(t, w)
	if resp["isValid"] != false {
		t.Errorf("Expected invalid result for short review, got %v", resp["isValid"])
	}
}

// ---------------------------------------------------------------------------
// Rate limit endpoints
// ---------------------------------------------------------------------------

func TestRateLimitStatus(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/v1/ratelimit/user-1/status?action=booking_creation", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	resp := parseBody(t, w)
	if resp["limit"].(float64) != 5 {
		t.Errorf("Expected booking_creation limit 5, got %v", resp["limit"])
	}
	if resp["count"].(float64) != 0 {
		t.Errorf("Expected count 0 before any checks, got %v", resp["count"])
	}
}

func TestRateLimitCheck_ExhaustsQuota(t *testing.T) {
	s := newTestServer(t)

	body := gin.H{"identifier": "user-rl", "action": "review_submission"}
	for i := 0; i < 3; i++ {
		w := doJSON(s, "POST", "/v1/ratelimit/check", body, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	w := doJSON(s, "POST", "/v1/ratelimit/check", body, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after quota exhausted, got %d", w.Code)
	}
}

func TestRateLimitReset_RequiresAdmin(t *testing.T) {
	s := newTestServer(t)

	body := gin.H{"identifier": "user-rl", "action": "review_submission"}

	w := doJSON(s, "POST", "/v1/admin/ratelimit/reset", body, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without admin key, got %d", w.Code)
	}

	w = doJSON(s, "POST", "/v1/admin/ratelimit/reset", body, map[string]string{"X-Admin-Key": "admin-test-key"})
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with admin key, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Fraud endpoints
// ---------------------------------------------------------------------------

func TestFraudCheck_CleanUser(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "POST", "/v1/fraud/check", gin.H{
		"userId":       "user-clean",
		"restaurantId": "rest-1",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := parseBody(t, w)
	if resp["allowed"] != true {
		t.Errorf("Expected clean user to be allowed, got %v", resp["allowed"])
	}
	if resp["score"].(float64) != 0 {
		t.Errorf("Expected score 0, got %v", resp["score"])
	}
}

func TestFraudCheck_BlacklistedUser(t *testing.T) {
	s := newTestServer(t)

	err := s.fraudStore.AddToBlacklist(context.Background(), "user-bad", "rest-1", "chargeback abuse")
	if err != nil {
		t.Fatalf("AddToBlacklist failed: %v", err)
	}

	w := doJSON(s, "POST", "/v1/fraud/check", gin.H{
		"userId":       "user-bad",
		"restaurantId": "rest-1",
	}, nil)
	resp := parseBody(t, w)
	if resp["allowed"] != false {
		t.Errorf("Expected blacklisted user to be denied, got %v", resp["allowed"])
	}
	if resp["score"].(float64) != 1.0 {
		t.Errorf("Expected score 1.0, got %v", resp["score"])
	}
}

// ---------------------------------------------------------------------------
// Booking endpoints
// ---------------------------------------------------------------------------

func TestCreateBooking_RequiresAuth(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "POST", "/v1/bookings", gin.H{"restaurantId": "rest-1"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without API key, got %d", w.Code)
	}
}

func TestCreateBooking_Succeeds(t *testing.T) {
	s := newTestServer(t)
	key := apiKeyFor(t, s, "user-1")

	w := doJSON(s, "POST", "/v1/bookings", gin.H{
		"restaurantId":   "rest-1",
		"specialRequest": "window seat please",
	}, map[string]string{"Authorization": key})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	resp := parseBody(t, w)
	booking := resp["booking"].(map[string]interface{})
	if booking["userId"] != "user-1" {
		t.Errorf("Expected booking for user-1, got %v", booking["userId"])
	}
	if booking["status"] != "confirmed" {
		t.Errorf("Expected confirmed status, got %v", booking["status"])
	}
}

func TestCreateBooking_BlacklistedDenied(t *testing.T) {
	s := newTestServer(t)
	key := apiKeyFor(t, s, "user-bl")

	if err := s.fraudStore.AddToBlacklist(context.Background(), "user-bl", "rest-9", "abuse"); err != nil {
		t.Fatalf("AddToBlacklist failed: %v", err)
	}

	w := doJSON(s, "POST", "/v1/bookings", gin.H{
		"restaurantId": "rest-9",
	}, map[string]string{"Authorization": key})
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for blacklisted user, got %d: %s", w.Code, w.Body.String())
	}

	resp := parseBody(t, w)
	if resp["error"] != "booking_denied" {
		t.Errorf("Expected booking_denied error, got %v", resp["error"])
	}
}

func TestUpdateBookingStatus(t *testing.T) {
	s := newTestServer(t)
	key := apiKeyFor(t, s, "user-1")

	booking := &fraud.Booking{ID: "bkg_test", UserID: "user-1", RestaurantID: "rest-1"}
	if err := s.fraudStore.RecordBooking(context.Background(), booking); err != nil {
		t.Fatalf("RecordBooking failed: %v", err)
	}

	w := doJSON(s, "POST", "/v1/bookings/bkg_test/status", gin.H{"status": "cancelled"},
		map[string]string{"Authorization": key})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(s, "POST", "/v1/bookings/bkg_test/status", gin.H{"status": "teleported"},
		map[string]string{"Authorization": key})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown status, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Device endpoints
// ---------------------------------------------------------------------------

func TestDeviceFingerprintAndLimit(t *testing.T) {
	s := newTestServer(t)
	key := apiKeyFor(t, s, "user-1")

	w := doJSON(s, "POST", "/v1/devices/fingerprint", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	fingerprint := parseBody(t, w)["fingerprint"].(string)
	if fingerprint == "" {
		t.Fatal("Expected non-empty fingerprint")
	}

	// Three accounts fit on one device
	for i := 1; i <= 3; i++ {
		w = doJSON(s, "POST", "/v1/devices/register", gin.H{
			"fingerprint": fingerprint,
			"userId":      fmt.Sprintf("user-%d", i),
		}, map[string]string{"Authorization": key})
		if w.Code != http.StatusOK {
			t.Fatalf("Registration %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
	}

	// Fourth is rejected
	w = doJSON(s, "POST", "/v1/devices/register", gin.H{
		"fingerprint": fingerprint,
		"userId":      "user-4",
	}, map[string]string{"Authorization": key})
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for fourth account, got %d", w.Code)
	}

	// Check endpoint reflects the cap
	w = doJSON(s, "GET", "/v1/devices/"+fingerprint+"/check", nil, nil)
	resp := parseBody(t, w)
	if resp["allowed"] != false {
		t.Errorf("Expected allowed=false at cap, got %v", resp["allowed"])
	}
}

// ---------------------------------------------------------------------------
// Event reporting & flags
// ---------------------------------------------------------------------------

func TestReportEvent_UnknownTypeRejected(t *testing.T) {
	s := newTestServer(t)
	key := apiKeyFor(t, s, "user-1")

	w := doJSON(s, "POST", "/v1/events", gin.H{"type": "suspicious_dancing"},
		map[string]string{"Authorization": key})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown activity type, got %d", w.Code)
	}
}

func TestReportEvent_EscalatesToFlag(t *testing.T) {
	s := newTestServer(t)
	key := apiKeyFor(t, s, "reporter")

	for i := 0; i < 5; i++ {
		w := doJSON(s, "POST", "/v1/events", gin.H{
			"type":   "booking_fraud",
			"userId": "user-flagged",
			"metadata": gin.H{
				"note": "synthetic",
			},
		}, map[string]string{"Authorization": key})
		if w.Code != http.StatusAccepted {
			t.Fatalf("Event %d: expected 202, got %d: %s", i+1, w.Code, w.Body.String())
		}
	}

	w := doJSON(s, "GET", "/v1/users/user-flagged/flags", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	resp := parseBody(t, w)
	if resp["isFlagged"] != true {
		t.Errorf("Expected user to be flagged after 5 events, got %v", resp["isFlagged"])
	}
	if resp["riskLevel"] != "high" {
		t.Errorf("Expected high risk level, got %v", resp["riskLevel"])
	}
}

// ---------------------------------------------------------------------------
// Admin endpoints
// ---------------------------------------------------------------------------

func TestAuditEndpoint_RequiresAdmin(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/v1/admin/audit", nil, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without admin key, got %d", w.Code)
	}
}

func TestAuditEndpoint_ListsEntries(t *testing.T) {
	s := newTestServer(t)
	key := apiKeyFor(t, s, "reporter")

	w := doJSON(s, "POST", "/v1/events", gin.H{
		"type":   "invalid_input",
		"userId": "user-audit",
	}, map[string]string{"Authorization": key})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	// The audit writer flushes on a timer; poll until the entry lands.
	deadline := time.Now().Add(2 * time.Second)
	for {
		w = doJSON(s, "GET", "/v1/admin/audit", nil, map[string]string{"X-Admin-Key": "admin-test-key"})
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		resp := parseBody(t, w)
		if resp["count"].(float64) >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Audit entry never appeared")
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestAdminStats(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/v1/admin/stats", nil, map[string]string{"X-Admin-Key": "admin-test-key"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	resp := parseBody(t, w)
	if _, ok := resp["realtime"]; !ok {
		t.Error("Expected realtime stats in response")
	}
}
