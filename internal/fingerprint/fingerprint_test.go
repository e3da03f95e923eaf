package fingerprint

import "testing"

func TestNormalizeMACForms(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"a4:83:e7:11:22:33", "A4:83:E7:11:22:33"},
		{"A4-83-E7-11-22-33", "A4:83:E7:11:22:33"},
		{"a483.e711.2233", "A4:83:E7:11:22:33"},
		{"a483e7112233", "A4:83:E7:11:22:33"},
		{"4:83:e7:1:22:33", "04:83:E7:01:22:33"},
	}
	for _, c := range cases {
		got, err := NormalizeMAC(c.in)
		if err != nil {
			t.Errorf("NormalizeMAC(%q) error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("NormalizeMAC(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeMACRejectsGarbage(t *testing.T) {
	if _, err := NormalizeMAC("not-a-mac"); err == nil {
		t.Errorf("expected error for invalid MAC")
	}
}

func TestNormalizeMACIdempotent(t *testing.T) {
	in := "a4:83:e7:11:22:33"
	once, err := NormalizeMAC(in)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	twice, err := NormalizeMAC(once)
	if err != nil {
		t.Fatalf("normalize twice: %v", err)
	}
	if once != twice {
		t.Errorf("NormalizeMAC not idempotent: %q != %q", once, twice)
	}
}

func TestNormalizeMDNSHostnameIdempotent(t *testing.T) {
	in := "  Living--Room.local.  "
	once := NormalizeMDNSHostname(in)
	twice := NormalizeMDNSHostname(once)
	if once != twice {
		t.Errorf("NormalizeMDNSHostname not idempotent: %q != %q", once, twice)
	}
	if once != "living-room" {
		t.Errorf("got %q, want living-room", once)
	}
}

func TestHashDHCPOptionsStableUnderShuffle(t *testing.T) {
	a := HashDHCPOptions([]int{55, 1, 3, 60})
	b := HashDHCPOptions([]int{60, 3, 55, 1})
	if a != b {
		t.Errorf("hash not stable under shuffle: %q != %q", a, b)
	}
}

func TestHashConnectionPatternStableUnderShuffle(t *testing.T) {
	d1 := []ConnDestination{{"10.0.0.1", 443}, {"10.0.0.2", 80}}
	d2 := []ConnDestination{{"10.0.0.2", 80}, {"10.0.0.1", 443}}
	if HashConnectionPattern(d1) != HashConnectionPattern(d2) {
		t.Errorf("connection pattern hash not stable under shuffle")
	}
}

func TestHashOpenPortsStableUnderShuffle(t *testing.T) {
	if HashOpenPorts([]int{80, 22, 443}) != HashOpenPorts([]int{443, 22, 80}) {
		t.Errorf("open ports hash not stable under shuffle")
	}
}

func TestCompositeHashDeterministic(t *testing.T) {
	c1 := NewComposite("A4:83:E7:11:22:33", "living-room", "dhcphash", "connhash", "portshash")
	c2 := NewComposite("A4:83:E7:11:22:33", "living-room", "dhcphash", "connhash", "portshash")
	if c1.CompositeHash != c2.CompositeHash {
		t.Errorf("composite hash not deterministic")
	}
	if c1.SignalCount != 5 {
		t.Errorf("expected signal_count 5, got %d", c1.SignalCount)
	}
}

func TestCompositeHashEmptyWithZeroSignals(t *testing.T) {
	c := NewComposite("", "", "", "", "")
	if c.CompositeHash != "" {
		t.Errorf("expected empty composite hash with zero signals, got %q", c.CompositeHash)
	}
	if c.SignalCount != 0 {
		t.Errorf("expected signal_count 0, got %d", c.SignalCount)
	}
}
