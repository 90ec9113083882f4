//go:build integration

package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/plateful/doorman/internal/pagination"
	"github.com/plateful/doorman/internal/testutil"
)

func TestPostgresAuditStore_AppendAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresAuditStore(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	var entries []*AuditEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, &AuditEntry{
			ID:           fmt.Sprintf("evt-%d", i),
			UserID:       "user-1",
			RestaurantID: "rest-1",
			ActivityType: ActivityBookingFraud,
			RiskScore:    80,
			Details:      []byte(`{"score":0.8}`),
			IPAddress:    "203.0.113.7",
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
	}
	if err := store.AppendBatch(ctx, entries); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}

	listed, err := store.ListByUser(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(listed) != 5 {
		t.Fatalf("Expected 5 entries, got %d", len(listed))
	}
	if listed[0].ID != "evt-4" {
		t.Errorf("Expected newest entry first, got %s", listed[0].ID)
	}
	if listed[0].ActivityType != ActivityBookingFraud || listed[0].RiskScore != 80 {
		t.Errorf("Entry fields not round-tripped: %+v", listed[0])
	}
	if string(listed[0].Details) != `{"score":0.8}` {
		t.Errorf("Details not round-tripped: %s", listed[0].Details)
	}
}

func TestPostgresAuditStore_CursorPagination(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresAuditStore(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	var entries []*AuditEntry
	for i := 0; i < 6; i++ {
		entries = append(entries, &AuditEntry{
			ID:           fmt.Sprintf("evt-%d", i),
			UserID:       "user-1",
			ActivityType: ActivityRapidRequests,
			RiskScore:    50,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
	}
	if err := store.AppendBatch(ctx, entries); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}

	page, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(page) != 2 || page[0].ID != "evt-5" || page[1].ID != "evt-4" {
		t.Fatalf("Unexpected first page: %+v", page)
	}

	cursor := pagination.Encode(page[1].CreatedAt, page[1].ID)
	page, err = store.ListRecent(ctx, 2, WithCursor(cursor))
	if err != nil {
		t.Fatalf("ListRecent with cursor: %v", err)
	}
	if len(page) != 2 || page[0].ID != "evt-3" || page[1].ID != "evt-2" {
		t.Fatalf("Unexpected second page: %+v", page)
	}
}

func TestPostgresEscalationStore_CreateResolve(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresEscalationStore(db)
	ctx := context.Background()

	esc := &Escalation{
		ID:           "esc-1",
		UserID:       "user-1",
		ActivityType: ActivityBookingFraud,
		Level:        LevelHigh,
		AutoFlagged:  true,
		CreatedAt:    time.Now(),
	}
	if err := store.Create(ctx, esc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	unresolved, err := store.ListUnresolved(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListUnresolved: %v", err)
	}
	if len(unresolved) != 1 || unresolved[0].Level != LevelHigh || !unresolved[0].AutoFlagged {
		t.Fatalf("Unexpected unresolved escalations: %+v", unresolved)
	}

	if err := store.Resolve(ctx, "esc-1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	unresolved, err = store.ListUnresolved(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListUnresolved: %v", err)
	}
	if len(unresolved) != 0 {
		t.Errorf("Expected no unresolved escalations after Resolve, got %d", len(unresolved))
	}
}
