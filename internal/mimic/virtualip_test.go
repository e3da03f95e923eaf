package mimic

import "testing"

func testAllocator(t *testing.T, cfg AllocatorConfig) *Allocator {
	t.Helper()
	if cfg.CIDR == "" {
		cfg.CIDR = "192.168.1.0/24"
	}
	a, err := NewAllocator(cfg)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	return a
}

func TestAllocateExcludesGatewaySensorAndARPSeen(t *testing.T) {
	a := testAllocator(t, AllocatorConfig{
		GatewayIP:  "192.168.1.200",
		SensorIP:   "192.168.1.201",
		RangeStart: 200,
		RangeEnd:   203,
	})
	a.SetARPSeen([]string{"192.168.1.202"})

	ip, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ip != "192.168.1.203" {
		t.Errorf("Allocate = %q, want 192.168.1.203 (first candidate surviving exclusion)", ip)
	}
}

func TestAllocateExcludesNetworkAndBroadcastAddresses(t *testing.T) {
	a := testAllocator(t, AllocatorConfig{RangeStart: 0, RangeEnd: 2})
	ip, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ip == "192.168.1.0" || ip == "192.168.1.255" {
		t.Errorf("Allocate returned excluded address %q", ip)
	}
	if ip != "192.168.1.1" {
		t.Errorf("Allocate = %q, want 192.168.1.1", ip)
	}
}

func TestAllocateSkipsAlreadyAllocated(t *testing.T) {
	a := testAllocator(t, AllocatorConfig{RangeStart: 200, RangeEnd: 201})
	first, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	second, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if first == second {
		t.Fatalf("Allocate returned the same address twice: %q", first)
	}
}

func TestAllocatePoolExhausted(t *testing.T) {
	a := testAllocator(t, AllocatorConfig{RangeStart: 200, RangeEnd: 200})
	if _, err := a.Allocate(); err != nil {
		t.Fatalf("first Allocate: %v", err)
	}
	if _, err := a.Allocate(); err != ErrPoolExhausted {
		t.Errorf("second Allocate error = %v, want ErrPoolExhausted", err)
	}
}

func TestReleaseFreesAddressForReallocation(t *testing.T) {
	a := testAllocator(t, AllocatorConfig{RangeStart: 200, RangeEnd: 200})
	ip, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a.Release(ip)
	again, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
	if again != ip {
		t.Errorf("Allocate after release = %q, want %q", again, ip)
	}
}

func TestMarkAllocatedConsumesWithoutAllocate(t *testing.T) {
	a := testAllocator(t, AllocatorConfig{RangeStart: 200, RangeEnd: 201})
	a.MarkAllocated("192.168.1.200")
	ip, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ip != "192.168.1.201" {
		t.Errorf("Allocate = %q, want 192.168.1.201 (200 pre-marked allocated)", ip)
	}
}
