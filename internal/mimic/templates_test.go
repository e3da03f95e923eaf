package mimic

import (
	"encoding/json"
	"testing"

	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

func TestCategoryForDeviceType(t *testing.T) {
	cases := map[string]string{
		"IP Camera":           "camera",
		"Video Doorbell":      "camera",
		"Network Printer":     "printer",
		"Wireless Router":     "router",
		"Cable Gateway":       "router",
		"NAS Enclosure":       "nas",
		"Smart TV":            "media",
		"Chromecast":          "media",
		"Smart Plug":          "smart_home",
		"Thermostat":          "smart_home",
		"Dev Server":          "dev_server",
		"Unidentified Widget": "generic",
	}
	for deviceType, want := range cases {
		if got := categoryForDeviceType(deviceType); got != want {
			t.Errorf("categoryForDeviceType(%q) = %q, want %q", deviceType, got, want)
		}
	}
}

func TestStripHopByHop(t *testing.T) {
	in := map[string]string{
		"Server":            "nginx",
		"Content-Type":      "text/html",
		"Transfer-Encoding": "chunked",
		"Connection":        "keep-alive",
		"Content-Length":    "512",
	}
	out := stripHopByHop(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 surviving headers, got %d: %v", len(out), out)
	}
	if out["Server"] != "nginx" || out["Content-Type"] != "text/html" {
		t.Errorf("unexpected surviving headers: %v", out)
	}
}

func TestDominantServerHeader(t *testing.T) {
	headerJSON := func(server string) string {
		b, _ := json.Marshal(map[string]string{"Server": server})
		return string(b)
	}
	profiles := []*storage.ServiceProfile{
		{Headers: headerJSON("lighttpd/1.4")},
		{Headers: headerJSON("nginx/1.20")},
		{Headers: headerJSON("lighttpd/1.4")},
		{Headers: headerJSON("")},
	}
	if got := dominantServerHeader(profiles); got != "lighttpd/1.4" {
		t.Errorf("dominantServerHeader = %q, want lighttpd/1.4", got)
	}
}

func TestBuildTemplateStripsHopByHopAndSetsServerHeader(t *testing.T) {
	headersJSON, _ := json.Marshal(map[string]string{
		"Server":         "lighttpd/1.4",
		"Connection":     "keep-alive",
		"Content-Length": "128",
	})
	device := &storage.Device{ID: 7, DeviceType: "IP Camera"}
	profiles := []*storage.ServiceProfile{
		{Port: 80, HTTPStatus: 200, Headers: string(headersJSON), BodySnippet: "<html></html>"},
		{Port: 554, HTTPStatus: 0, Headers: "{}"},
	}

	tmpl, err := buildTemplate(device, profiles)
	if err != nil {
		t.Fatalf("buildTemplate: %v", err)
	}
	if tmpl.Category != "camera" {
		t.Errorf("category = %q, want camera", tmpl.Category)
	}
	if tmpl.ServerHeader != "lighttpd/1.4" {
		t.Errorf("server header = %q, want lighttpd/1.4", tmpl.ServerHeader)
	}
	if tmpl.CredentialStrategy != "default_admin_password" {
		t.Errorf("credential strategy = %q, want default_admin_password", tmpl.CredentialStrategy)
	}

	ports := decodePorts(tmpl.Ports)
	if len(ports) != 2 || ports[0] != 80 || ports[1] != 554 {
		t.Errorf("ports = %v, want [80 554]", ports)
	}

	routes, err := decodeRouteTable(tmpl.RouteTable)
	if err != nil {
		t.Fatalf("decodeRouteTable: %v", err)
	}
	route, ok := routes["GET /"]
	if !ok {
		t.Fatal("expected GET / route")
	}
	if _, hasConn := route.Headers["Connection"]; hasConn {
		t.Errorf("hop-by-hop header Connection leaked into template: %v", route.Headers)
	}
	if route.Headers["Server"] != "lighttpd/1.4" {
		t.Errorf("route Server header = %q, want lighttpd/1.4", route.Headers["Server"])
	}
}

func TestMDNSNameForReplacesDotsInAddress(t *testing.T) {
	got := mdnsNameFor("camera", "192.168.1.210")
	want := "camera-192-168-1-210.local"
	if got != want {
		t.Errorf("mdnsNameFor = %q, want %q", got, want)
	}
}

func TestDecodeRouteTableDefaultsRootRoute(t *testing.T) {
	routes, err := decodeRouteTable("")
	if err != nil {
		t.Fatalf("decodeRouteTable: %v", err)
	}
	if _, ok := routes["GET /"]; !ok {
		t.Error("expected a default GET / route for an empty table")
	}
}
