package insight

import (
	"context"
	"testing"

	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/incident"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *storage.Store) {
	t.Helper()
	store, err := storage.Open(storage.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	bus := eventbus.New(store)
	inc := incident.New(store, bus, incident.DefaultConfig())
	return New(store, bus, inc), store
}

func seedDevice(t *testing.T, store *storage.Store, deviceType string, ports ...int) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := store.UpsertDevice(ctx, &storage.Device{IPAddress: "192.168.1.50", MACAddress: "aa:bb:cc:dd:ee:ff", DeviceType: deviceType, IsOnline: true})
	if err != nil {
		t.Fatalf("seed device: %v", err)
	}
	for _, p := range ports {
		if err := store.UpsertOpenPort(ctx, &storage.DeviceOpenPort{DeviceID: id, Port: p, Protocol: "tcp"}); err != nil {
			t.Fatalf("seed open port: %v", err)
		}
	}
	return id
}

func TestAnalyzeDeviceRaisesAlertForRiskyPort(t *testing.T) {
	a, store := newTestAnalyzer(t)
	ctx := context.Background()
	deviceID := seedDevice(t, store, "unknown", 23)

	d, err := store.GetDevice(ctx, deviceID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if err := a.AnalyzeDevice(ctx, d); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	st, err := store.GetInsightState(ctx, deviceID, "risky_port:23")
	if err != nil {
		t.Fatalf("expected an insight state row, got: %v", err)
	}
	if st.ResolvedAt != nil {
		t.Fatalf("expected the insight to still be active")
	}
}

func TestAnalyzeDeviceSuppressesExpectedPort(t *testing.T) {
	a, store := newTestAnalyzer(t)
	ctx := context.Background()
	deviceID := seedDevice(t, store, "nas", 445)

	d, err := store.GetDevice(ctx, deviceID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if err := a.AnalyzeDevice(ctx, d); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if _, err := store.GetInsightState(ctx, deviceID, "risky_port:445"); err != storage.ErrNotFound {
		t.Fatalf("expected no insight state for an expected port, got err=%v", err)
	}
}

func TestAnalyzeDeviceResolvesGoneFindingThenReactivatesWithoutNewAlert(t *testing.T) {
	a, store := newTestAnalyzer(t)
	ctx := context.Background()
	deviceID := seedDevice(t, store, "unknown", 23)

	d, err := store.GetDevice(ctx, deviceID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if err := a.AnalyzeDevice(ctx, d); err != nil {
		t.Fatalf("first analyze: %v", err)
	}

	// The port closes: a re-run with no open ports should resolve the finding.
	emptyDevice := &storage.Device{ID: deviceID, IPAddress: d.IPAddress, MACAddress: d.MACAddress, DeviceType: d.DeviceType}
	if err := a.AnalyzeDevice(ctx, emptyDevice); err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	st, err := store.GetInsightState(ctx, deviceID, "risky_port:23")
	if err != nil {
		t.Fatalf("get insight state: %v", err)
	}
	if st.ResolvedAt == nil {
		t.Fatalf("expected the finding to be resolved once the port closed")
	}
	firstAlertID := st.AlertID

	// The port reopens: the state should reactivate without a new alert id.
	if err := store.UpsertOpenPort(ctx, &storage.DeviceOpenPort{DeviceID: deviceID, Port: 23, Protocol: "tcp"}); err != nil {
		t.Fatalf("reopen port: %v", err)
	}
	if err := a.AnalyzeDevice(ctx, d); err != nil {
		t.Fatalf("third analyze: %v", err)
	}
	st, err = store.GetInsightState(ctx, deviceID, "risky_port:23")
	if err != nil {
		t.Fatalf("get insight state: %v", err)
	}
	if st.ResolvedAt != nil {
		t.Fatalf("expected re-activation to clear resolved_at")
	}
	if st.AlertID != firstAlertID {
		t.Fatalf("expected re-activation to reuse the original alert, got new alert id %d", st.AlertID)
	}
}

func TestAnalyzeDeviceFlagsUnencryptedAdminPortWithoutCompanion(t *testing.T) {
	a, store := newTestAnalyzer(t)
	ctx := context.Background()
	deviceID := seedDevice(t, store, "unknown", 8080)

	d, err := store.GetDevice(ctx, deviceID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if err := a.AnalyzeDevice(ctx, d); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if _, err := store.GetInsightState(ctx, deviceID, "risky_port:8080"); err != nil {
		t.Fatalf("expected an unencrypted-admin-port finding, got: %v", err)
	}
}

func TestAnalyzeDeviceDoesNotFlagAdminPortWithEncryptedCompanion(t *testing.T) {
	a, store := newTestAnalyzer(t)
	ctx := context.Background()
	deviceID := seedDevice(t, store, "unknown", 8080, 8443)

	d, err := store.GetDevice(ctx, deviceID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if err := a.AnalyzeDevice(ctx, d); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if _, err := store.GetInsightState(ctx, deviceID, "risky_port:8080"); err != storage.ErrNotFound {
		t.Fatalf("expected no finding when an encrypted companion port is open, got err=%v", err)
	}
}
