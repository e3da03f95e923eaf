package scout

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, *storage.Store, *eventbus.Bus) {
	t.Helper()
	store, err := storage.Open(storage.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	bus := eventbus.New(store)
	cfg := DefaultConfig()
	cfg.ProbeTimeout = 500 * time.Millisecond
	return New(store, bus, cfg), store, bus
}

func seedOnlineDevice(t *testing.T, store *storage.Store, ip string, port int) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := store.UpsertDevice(ctx, &storage.Device{IPAddress: ip, MACAddress: "aa:bb:cc:dd:ee:01", IsOnline: true})
	if err != nil {
		t.Fatalf("seed device: %v", err)
	}
	if err := store.UpsertOpenPort(ctx, &storage.DeviceOpenPort{DeviceID: id, Port: port, Protocol: "tcp"}); err != nil {
		t.Fatalf("seed open port: %v", err)
	}
	return id
}

func TestRunNowProbesOpenPortsAndUpsertsProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "test-httpd/1.0")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	// the probed port must be one of the known HTTP ports to get an HTTP
	// profile; alias 8080 isn't guaranteed to be the httptest port, so
	// register the real ephemeral port as HTTP-probed for this test only.
	knownHTTPPorts[port] = false
	defer delete(knownHTTPPorts, port)

	e, store, _ := newTestEngine(t)
	deviceID := seedOnlineDevice(t, store, host, port)

	stats, err := e.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if stats.ProfileCount != 1 {
		t.Fatalf("expected 1 profile, got %d", stats.ProfileCount)
	}

	profiles, err := store.ListServiceProfiles(context.Background(), deviceID)
	if err != nil {
		t.Fatalf("list service profiles: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected 1 stored profile, got %d", len(profiles))
	}
	if profiles[0].HTTPStatus != http.StatusOK {
		t.Errorf("expected HTTP 200, got %d", profiles[0].HTTPStatus)
	}
}

func TestRunNowSkipsOfflineDevices(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	id, err := store.UpsertDevice(ctx, &storage.Device{IPAddress: "192.168.1.99", MACAddress: "aa:bb:cc:dd:ee:02", IsOnline: false})
	if err != nil {
		t.Fatalf("seed device: %v", err)
	}
	if err := store.UpsertOpenPort(ctx, &storage.DeviceOpenPort{DeviceID: id, Port: 22, Protocol: "tcp"}); err != nil {
		t.Fatalf("seed open port: %v", err)
	}

	stats, err := e.RunNow(ctx)
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if stats.ProfileCount != 0 {
		t.Fatalf("expected 0 profiles for an offline device, got %d", stats.ProfileCount)
	}
}

func TestRunNowCoalescesConcurrentCalls(t *testing.T) {
	e, store, _ := newTestEngine(t)
	seedOnlineDevice(t, store, "192.168.1.50", 9)

	var wg sync.WaitGroup
	results := make([]CycleStats, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			stats, err := e.RunNow(context.Background())
			if err != nil {
				t.Errorf("run now: %v", err)
			}
			results[idx] = stats
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i].Duration != results[0].Duration {
			t.Errorf("expected coalesced calls to return the identical cycle result, got differing durations at index %d", i)
		}
	}
}

func TestRunWaitsForScanCompleteBeforeFirstCycle(t *testing.T) {
	e, store, bus := newTestEngine(t)
	e.cfg.InitialDelay = time.Millisecond
	seedOnlineDevice(t, store, "192.168.1.51", 22)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	// Give Run a moment to subscribe before publishing, then fire the
	// trigger event it's waiting on.
	time.Sleep(20 * time.Millisecond)
	if _, err := bus.Publish(context.Background(), eventbus.EventSystemScanComplete, nil, ""); err != nil {
		t.Fatalf("publish scan complete: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	profiles, err := store.ListServiceProfiles(context.Background(), 1)
	if err != nil {
		t.Fatalf("list service profiles: %v", err)
	}
	if len(profiles) == 0 {
		t.Error("expected at least one profile after scan_complete triggered a cycle")
	}
}
