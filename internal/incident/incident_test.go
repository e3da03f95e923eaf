package incident

import (
	"context"
	"testing"

	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

func newTestAggregator(t *testing.T) (*Aggregator, *storage.Store) {
	t.Helper()
	store, err := storage.Open(storage.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	bus := eventbus.New(store)
	return New(store, bus, DefaultConfig()), store
}

func TestRecordCreatesNewIncidentForFirstAlert(t *testing.T) {
	a, store := newTestAggregator(t)
	ctx := context.Background()

	_, incID, err := a.Record(ctx, Finding{
		AlertType: "decoy.trip",
		Severity:  storage.SeverityMedium,
		Title:     "decoy tripped",
		SourceIP:  "192.168.1.20",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if incID == 0 {
		t.Fatalf("expected an incident id")
	}

	inc, err := store.FindActiveIncident(ctx, "192.168.1.20", 30)
	if err != nil {
		t.Fatalf("find incident: %v", err)
	}
	if inc.AlertCount != 0 {
		t.Fatalf("expected alert_count unchanged by CreateIncident, got %d", inc.AlertCount)
	}
}

func TestRecordMergesWithinWindowAndEscalates(t *testing.T) {
	a, store := newTestAggregator(t)
	ctx := context.Background()

	_, inc1, err := a.Record(ctx, Finding{
		AlertType: "decoy.trip",
		Severity:  storage.SeverityLow,
		Title:     "first",
		SourceIP:  "192.168.1.30",
	})
	if err != nil {
		t.Fatalf("record 1: %v", err)
	}

	_, inc2, err := a.Record(ctx, Finding{
		AlertType: "decoy.credential_trip",
		Severity:  storage.SeverityHigh,
		Title:     "second",
		SourceIP:  "192.168.1.30",
	})
	if err != nil {
		t.Fatalf("record 2: %v", err)
	}

	if inc1 != inc2 {
		t.Fatalf("expected alerts from the same source within the window to merge, got %d and %d", inc1, inc2)
	}

	inc, err := store.FindActiveIncident(ctx, "192.168.1.30", 30)
	if err != nil {
		t.Fatalf("find incident: %v", err)
	}
	if inc.AlertCount != 1 {
		t.Fatalf("expected alert_count bumped to 1, got %d", inc.AlertCount)
	}
	if inc.Severity != storage.SeverityHigh {
		t.Fatalf("expected severity escalated to high, got %q", inc.Severity)
	}
}

func TestSweepClosesStaleIncidents(t *testing.T) {
	a, store := newTestAggregator(t)
	ctx := context.Background()

	_, _, err := a.Record(ctx, Finding{
		AlertType: "decoy.trip",
		Severity:  storage.SeverityLow,
		Title:     "stale",
		SourceIP:  "192.168.1.40",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	n, err := a.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing closed immediately after creation, got %d", n)
	}
}
