package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

func newTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	store, err := storage.Open(storage.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return eventbus.New(store)
}

func TestObserveCountsEventsByType(t *testing.T) {
	bus := newTestBus(t)
	r := NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Observe(ctx, bus)
		close(done)
	}()

	if _, err := bus.Publish(context.Background(), eventbus.EventMimicDeployed, map[string]any{"vip": "192.168.1.200"}, "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := bus.Publish(context.Background(), eventbus.EventScoutCycleComplete, map[string]any{}, "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := bus.Publish(context.Background(), eventbus.EventIncidentNew, map[string]any{"severity": "high"}, "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for testutil.ToFloat64(r.MimicsDeployed) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done

	if got := testutil.ToFloat64(r.MimicsDeployed); got != 1 {
		t.Errorf("MimicsDeployed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.ScoutCycles); got != 1 {
		t.Errorf("ScoutCycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.IncidentsOpened.WithLabelValues("high")); got != 1 {
		t.Errorf("IncidentsOpened{high} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.EventsTotal.WithLabelValues(string(eventbus.EventMimicDeployed))); got != 1 {
		t.Errorf("EventsTotal{mimic.deployed} = %v, want 1", got)
	}
}
