package devicemgr

import (
	"context"
	"testing"

	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/fingerprint"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.Store) {
	t.Helper()
	store, err := storage.Open(storage.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	bus := eventbus.New(store)
	return New(store, bus), store
}

func TestProcessScanResultCreatesNewDevice(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	d, err := m.ProcessScanResult(ctx, ScanResult{
		IPAddress: "192.168.1.50",
		MAC:       "aa:bb:cc:dd:ee:ff",
	})
	if err != nil {
		t.Fatalf("process scan result: %v", err)
	}
	if d.MACAddress != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("expected normalized MAC, got %q", d.MACAddress)
	}

	trust, err := store.GetTrust(ctx, d.ID)
	if err != nil {
		t.Fatalf("get trust: %v", err)
	}
	if trust.Status != storage.TrustUnknown {
		t.Fatalf("new device should default to trust=unknown, got %q", trust.Status)
	}
}

func TestProcessScanResultNeverTouchesCustomName(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	d, err := m.ProcessScanResult(ctx, ScanResult{IPAddress: "192.168.1.51", MAC: "11:22:33:44:55:66"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d.CustomName = "Kitchen Thermostat"
	if _, err := store.UpsertDevice(ctx, d); err != nil {
		t.Fatalf("set custom name: %v", err)
	}
	if err := store.SetTrust(ctx, &storage.DeviceTrust{DeviceID: d.ID, Status: storage.TrustApproved}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	updated, err := m.ProcessScanResult(ctx, ScanResult{
		IPAddress: "192.168.1.52",
		MAC:       "11:22:33:44:55:66",
	})
	if err != nil {
		t.Fatalf("re-process: %v", err)
	}
	if updated.ID != d.ID {
		t.Fatalf("expected same device to be matched via MAC, got a new one")
	}
	if updated.CustomName != "Kitchen Thermostat" {
		t.Fatalf("custom_name must survive a rescan, got %q", updated.CustomName)
	}
}

func TestProcessScanResultMatchesExistingDeviceViaNonMACSignals(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	_, err := m.ProcessScanResult(ctx, ScanResult{
		IPAddress:              "192.168.1.60",
		MDNSHostname:           "living-room-device",
		ConnectionDestinations: []fingerprint.ConnDestination{{IP: "10.0.0.1", Port: 443}},
	})
	if err != nil {
		t.Fatalf("initial create: %v", err)
	}

	d2, err := m.ProcessScanResult(ctx, ScanResult{
		IPAddress:              "192.168.1.61",
		MDNSHostname:           "living-room-device",
		ConnectionDestinations: []fingerprint.ConnDestination{{IP: "10.0.0.1", Port: 443}},
	})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}

	devices, err := store.ListDevices(ctx)
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected the second scan to match the first device, got %d devices", len(devices))
	}
	_ = d2
}

func TestEnrichDeviceOnlyOverwritesUnknownVendor(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	d, err := m.ProcessScanResult(ctx, ScanResult{IPAddress: "192.168.1.70", MAC: "AA:AA:AA:AA:AA:AA"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := m.EnrichDevice(ctx, "AA:AA:AA:AA:AA:AA", "thermostat.local", "T-1000", "Ecobee", "Living Room"); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	enriched, err := store.GetDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if enriched.Vendor != "Ecobee" || enriched.Area != "Living Room" {
		t.Fatalf("expected enrichment to apply, got %+v", enriched)
	}

	if err := m.EnrichDevice(ctx, "AA:AA:AA:AA:AA:AA", "", "", "SomeoneElse", ""); err != nil {
		t.Fatalf("second enrich: %v", err)
	}
	again, err := store.GetDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if again.Vendor != "Ecobee" {
		t.Fatalf("vendor should not be overwritten once it is known, got %q", again.Vendor)
	}
}
