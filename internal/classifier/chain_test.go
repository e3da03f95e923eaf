package classifier

import (
	"context"
	"testing"
)

func TestClassifyLocalCuratedOUIWins(t *testing.T) {
	r := NewChain(nil).Classify(context.Background(), Signals{MAC: "B8:27:EB:11:22:33"})
	if r.Manufacturer != "Raspberry Pi Foundation" {
		t.Fatalf("expected curated OUI hit, got %+v", r)
	}
	if r.Source != "oui" {
		t.Fatalf("expected source=oui, got %q", r.Source)
	}
}

func TestClassifyLocalMDNSRegexBank(t *testing.T) {
	r := NewChain(nil).Classify(context.Background(), Signals{MDNSHostname: "chromecast-living-room"})
	if r.DeviceType != "Google Cast" {
		t.Fatalf("expected Google Cast, got %+v", r)
	}
}

func TestClassifyLocalDHCPHashTable(t *testing.T) {
	r := NewChain(nil).Classify(context.Background(), Signals{
		DHCPOptions: []int{1, 121, 33, 3, 6, 15, 26, 28, 51, 58, 59},
	})
	if r.DeviceType != "Android" {
		t.Fatalf("expected Android, got %+v", r)
	}
}

func TestClassifyFallsBackWhenNothingMatches(t *testing.T) {
	r := NewChain(nil).Classify(context.Background(), Signals{})
	if r.Source != "fallback" || r.Manufacturer != "Unknown" || r.Confidence != 0.10 {
		t.Fatalf("expected graceful fallback, got %+v", r)
	}
}

func TestExtractFirstJSONObjectStripsThinkAndFences(t *testing.T) {
	in := "<think>reasoning about the device</think>\n```json\n{\"manufacturer\": \"Acme\", \"device_type\": \"router\", \"confidence\": 0.8}\n```"
	obj, ok := extractFirstJSONObject(in)
	if !ok {
		t.Fatalf("expected to extract a JSON object")
	}
	if obj == "" {
		t.Fatalf("expected non-empty object")
	}
}

func TestExtractFirstJSONObjectNoObject(t *testing.T) {
	if _, ok := extractFirstJSONObject("no json here"); ok {
		t.Fatalf("expected no object found")
	}
}
