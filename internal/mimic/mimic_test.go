package mimic

import (
	"context"
	"testing"

	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/privileged"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
	"github.com/stretchr/testify/mock"
)

func newTestManager(t *testing.T, collaborator privileged.Collaborator) (*Manager, *storage.Store) {
	t.Helper()
	store, err := storage.Open(storage.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	bus := eventbus.New(store)

	cfg := DefaultConfig()
	cfg.Allocator.CIDR = "192.168.1.0/24"
	cfg.Allocator.RangeStart = 200
	cfg.Allocator.RangeEnd = 201

	m, err := New(store, bus, collaborator, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, store
}

func cameraTemplate(t *testing.T) *storage.MimicTemplate {
	t.Helper()
	device := &storage.Device{ID: 1, DeviceType: "IP Camera"}
	profiles := []*storage.ServiceProfile{
		{Port: 80, HTTPStatus: 200, Headers: `{"Server":"lighttpd/1.4"}`},
		{Port: 23, HTTPStatus: 0, Headers: "{}"},
	}
	tmpl, err := buildTemplate(device, profiles)
	if err != nil {
		t.Fatalf("buildTemplate: %v", err)
	}
	return tmpl
}

func TestDeployAllocatesVIPAndPersistsDecoy(t *testing.T) {
	collaborator := new(privileged.MockCollaborator)
	collaborator.On("AddIPAlias", mock.Anything, "lan0", "255.255.255.0").Return(true, nil)
	collaborator.On("RemoveIPAlias", mock.Anything, "lan0").Return(true, nil)
	collaborator.On("SetupPortForwards", mock.Anything, "lan0").Return(true, nil)
	collaborator.On("ClearPortForwards").Return(true, nil)

	m, store := newTestManager(t, collaborator)
	ctx := context.Background()

	vip, err := m.Deploy(ctx, cameraTemplate(t))
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if vip != "192.168.1.200" {
		t.Errorf("Deploy returned vip %q, want 192.168.1.200", vip)
	}

	live, err := store.ListLiveVirtualIPs(ctx)
	if err != nil {
		t.Fatalf("ListLiveVirtualIPs: %v", err)
	}
	if len(live) != 1 || live[0].IPAddress != vip {
		t.Fatalf("expected one live virtual ip %q, got %v", vip, live)
	}
	if live[0].DecoyID == nil {
		t.Fatal("expected virtual ip to be linked to a backing decoy row")
	}

	decoys, err := store.ListDecoys(ctx)
	if err != nil {
		t.Fatalf("ListDecoys: %v", err)
	}
	if len(decoys) != 1 || decoys[0].DecoyType != "mimic:camera" {
		t.Fatalf("expected one mimic:camera decoy, got %v", decoys)
	}

	if err := m.Remove(ctx, vip); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	collaborator.AssertExpectations(t)
}

func TestDeployFailsWithoutCollaborator(t *testing.T) {
	m, _ := newTestManager(t, nil)
	if _, err := m.Deploy(context.Background(), cameraTemplate(t)); err == nil {
		t.Fatal("expected Deploy to fail with no privileged collaborator configured")
	}
}

func TestDeployRejectsOverMaxMimicDecoys(t *testing.T) {
	collaborator := new(privileged.MockCollaborator)
	collaborator.On("AddIPAlias", mock.Anything, "lan0", "255.255.255.0").Return(true, nil)
	collaborator.On("SetupPortForwards", mock.Anything, "lan0").Return(true, nil)

	m, _ := newTestManager(t, collaborator)
	m.cfg.MaxMimicDecoys = 1
	ctx := context.Background()

	if _, err := m.Deploy(ctx, cameraTemplate(t)); err != nil {
		t.Fatalf("first Deploy: %v", err)
	}
	if _, err := m.Deploy(ctx, cameraTemplate(t)); err == nil {
		t.Fatal("expected second Deploy to be rejected at max_mimic_decoys")
	}
}

func TestRemoveReleasesVirtualIPBackToPool(t *testing.T) {
	collaborator := new(privileged.MockCollaborator)
	collaborator.On("AddIPAlias", mock.Anything, "lan0", "255.255.255.0").Return(true, nil)
	collaborator.On("RemoveIPAlias", mock.Anything, "lan0").Return(true, nil)
	collaborator.On("SetupPortForwards", mock.Anything, "lan0").Return(true, nil)
	collaborator.On("ClearPortForwards").Return(true, nil)

	m, store := newTestManager(t, collaborator)
	ctx := context.Background()

	vip, err := m.Deploy(ctx, cameraTemplate(t))
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if err := m.Remove(ctx, vip); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	live, err := store.ListLiveVirtualIPs(ctx)
	if err != nil {
		t.Fatalf("ListLiveVirtualIPs: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("expected no live virtual ips after Remove, got %v", live)
	}

	second, err := m.Deploy(ctx, cameraTemplate(t))
	if err != nil {
		t.Fatalf("re-Deploy after Remove: %v", err)
	}
	if second != vip {
		t.Errorf("expected released address %q to be reused, got %q", vip, second)
	}
	_ = m.Remove(ctx, second)
}

func TestLoadFromDBReAliasesLiveRowsAndOrphansFailures(t *testing.T) {
	collaborator := new(privileged.MockCollaborator)
	collaborator.On("AddIPAlias", "192.168.1.200", "lan0", "255.255.255.0").Return(true, nil)
	collaborator.On("AddIPAlias", "192.168.1.201", "lan0", "255.255.255.0").Return(false, nil)

	m, store := newTestManager(t, collaborator)
	ctx := context.Background()

	if _, err := store.AllocateVirtualIP(ctx, &storage.VirtualIP{IPAddress: "192.168.1.200", Interface: "lan0"}); err != nil {
		t.Fatalf("seed virtual ip: %v", err)
	}
	if _, err := store.AllocateVirtualIP(ctx, &storage.VirtualIP{IPAddress: "192.168.1.201", Interface: "lan0"}); err != nil {
		t.Fatalf("seed virtual ip: %v", err)
	}

	resumed, err := m.LoadFromDB(ctx)
	if err != nil {
		t.Fatalf("LoadFromDB: %v", err)
	}
	if resumed != 1 {
		t.Errorf("resumed = %d, want 1", resumed)
	}

	live, err := store.ListLiveVirtualIPs(ctx)
	if err != nil {
		t.Fatalf("ListLiveVirtualIPs: %v", err)
	}
	if len(live) != 1 || live[0].IPAddress != "192.168.1.200" {
		t.Fatalf("expected only 192.168.1.200 to remain live, got %v", live)
	}

	collaborator.AssertExpectations(t)
}
