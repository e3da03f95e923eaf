package baseline

import (
	"context"
	"testing"

	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/incident"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

func newTestCollector(t *testing.T, hours int) (*Collector, *storage.Store) {
	t.Helper()
	store, err := storage.Open(storage.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	bus := eventbus.New(store)
	inc := incident.New(store, bus, incident.DefaultConfig())
	return New(store, bus, inc, hours), store
}

func approveDevice(t *testing.T, store *storage.Store, ctx context.Context) int64 {
	t.Helper()
	d := &storage.Device{IPAddress: "192.168.1.80", MACAddress: "AA:BB:CC:00:00:01"}
	id, err := store.UpsertDevice(ctx, d)
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	if err := store.SetTrust(ctx, &storage.DeviceTrust{DeviceID: id, Status: storage.TrustApproved}); err != nil {
		t.Fatalf("approve device: %v", err)
	}
	return id
}

func TestObserveDuringLearningUpsertsBaseline(t *testing.T) {
	c, store := newTestCollector(t, 48)
	ctx := context.Background()
	if err := c.EnsureStarted(ctx); err != nil {
		t.Fatalf("ensure started: %v", err)
	}

	id := approveDevice(t, store, ctx)
	if err := c.Observe(ctx, id, "192.168.1.80", "10.0.0.1", 443); err != nil {
		t.Fatalf("observe: %v", err)
	}

	hit, err := store.BaselineHit(ctx, id, "10.0.0.1", 443)
	if err != nil {
		t.Fatalf("baseline hit: %v", err)
	}
	if !hit {
		t.Fatalf("expected destination to be baselined during learning")
	}
}

func TestObserveUnbaselinedDeviceNeverFlagged(t *testing.T) {
	c, store := newTestCollector(t, 0) // duration 0 hours: window closes the instant it starts
	ctx := context.Background()
	if err := c.EnsureStarted(ctx); err != nil {
		t.Fatalf("ensure started: %v", err)
	}
	learning, err := c.IsLearning(ctx)
	if err != nil {
		t.Fatalf("is learning: %v", err)
	}
	if learning {
		t.Fatalf("expected a zero-hour window to already be closed")
	}

	d := &storage.Device{IPAddress: "192.168.1.90"}
	id, err := store.UpsertDevice(ctx, d)
	if err != nil {
		t.Fatalf("create device: %v", err)
	}

	if err := c.Observe(ctx, id, "192.168.1.90", "8.8.8.8", 53); err != nil {
		t.Fatalf("observe: %v", err)
	}

	has, err := store.HasBaseline(ctx, id)
	if err != nil {
		t.Fatalf("has baseline: %v", err)
	}
	if has {
		t.Fatalf("device was never learned, should have no baseline rows")
	}
}
