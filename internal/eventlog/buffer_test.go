package eventlog

import (
	"testing"
	"time"

	"storefront-triage/internal/schema"

	"github.com/google/uuid"
)

var bufNow = time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

func bufEvent(age time.Duration) schema.SecurityEvent {
	return schema.SecurityEvent{
		ID:        uuid.New(),
		Type:      "failed_login",
		Severity:  schema.SeverityLow,
		IPAddress: "203.0.113.10",
		CreatedAt: bufNow.Add(-age),
	}
}

func TestBufferAddAndGet(t *testing.T) {
	b := NewBuffer(10)
	e := bufEvent(time.Minute)

	if err := b.Add(e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := b.Get(e.ID)
	if !ok {
		t.Fatal("event not found after add")
	}
	if got.Type != e.Type {
		t.Errorf("wrong event returned: %s", got.Type)
	}
}

func TestBufferRejectsDuplicates(t *testing.T) {
	b := NewBuffer(10)
	e := bufEvent(time.Minute)

	if err := b.Add(e); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if err := b.Add(e); err == nil {
		t.Fatal("duplicate id must be rejected")
	}
}

func TestBufferEvictsOldest(t *testing.T) {
	b := NewBuffer(3)
	first := bufEvent(5 * time.Minute)
	b.Add(first) //nolint:errcheck
	for i := 0; i < 3; i++ {
		b.Add(bufEvent(time.Duration(i) * time.Minute)) //nolint:errcheck
	}

	if b.Len() != 3 {
		t.Fatalf("expected capacity 3, got %d", b.Len())
	}
	if _, ok := b.Get(first.ID); ok {
		t.Error("oldest event should have been evicted")
	}
}

func TestBufferRecentWindow(t *testing.T) {
	b := NewBuffer(10)
	inWindow := bufEvent(5 * time.Minute)
	outOfWindow := bufEvent(30 * time.Minute)
	b.Add(inWindow)    //nolint:errcheck
	b.Add(outOfWindow) //nolint:errcheck

	recent := b.Recent(15*time.Minute, bufNow)
	if len(recent) != 1 || recent[0].ID != inWindow.ID {
		t.Fatalf("window filter wrong: %d events", len(recent))
	}
}

func TestBufferUnprocessedTracking(t *testing.T) {
	b := NewBuffer(10)
	e1 := bufEvent(time.Minute)
	e2 := bufEvent(2 * time.Minute)
	b.Add(e1) //nolint:errcheck
	b.Add(e2) //nolint:errcheck

	if got := b.Unprocessed(15*time.Minute, bufNow); len(got) != 2 {
		t.Fatalf("expected 2 unprocessed, got %d", len(got))
	}

	b.MarkProcessed(e1.ID)
	got := b.Unprocessed(15*time.Minute, bufNow)
	if len(got) != 1 || got[0].ID != e2.ID {
		t.Fatalf("expected only the unmarked event, got %d", len(got))
	}
}

func TestBufferCountsFor(t *testing.T) {
	b := NewBuffer(10)
	target := bufEvent(time.Minute)
	b.Add(target) //nolint:errcheck

	// Two more from the same IP, one of which shares the type.
	sameIPSameType := bufEvent(2 * time.Minute)
	b.Add(sameIPSameType) //nolint:errcheck

	other := bufEvent(3 * time.Minute)
	other.IPAddress = "198.51.100.7"
	other.Type = "rate_limit_exceeded"
	b.Add(other) //nolint:errcheck

	byIP, byType := b.CountsFor(target, 15*time.Minute, bufNow)
	if byIP != 1 {
		t.Errorf("expected 1 prior event from the IP, got %d", byIP)
	}
	if byType != 1 {
		t.Errorf("expected 1 prior event of the type, got %d", byType)
	}
}

func TestBufferLinkIncidentSetOnce(t *testing.T) {
	b := NewBuffer(10)
	e := bufEvent(time.Minute)
	b.Add(e) //nolint:errcheck

	if err := b.LinkIncident(e.ID, "INC-2026-0001"); err != nil {
		t.Fatalf("first link failed: %v", err)
	}
	if err := b.LinkIncident(e.ID, "INC-2026-0002"); err == nil {
		t.Fatal("relinking a linked event must fail")
	}

	got, _ := b.Get(e.ID)
	if got.IncidentID != "INC-2026-0001" {
		t.Errorf("back-reference wrong: %s", got.IncidentID)
	}
}

func TestBufferLinkUnknownEvent(t *testing.T) {
	b := NewBuffer(10)
	if err := b.LinkIncident(uuid.New(), "INC-2026-0001"); err == nil {
		t.Fatal("linking an unknown event must fail")
	}
}
