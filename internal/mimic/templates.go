package mimic

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rocketweb/squirrelops-sensor/internal/decoy"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

// hopByHopHeaders are connection-scoped and never valid to replay from a
// captured response into a static route table.
var hopByHopHeaders = map[string]bool{
	"transfer-encoding": true,
	"connection":        true,
	"keep-alive":        true,
	"content-length":    true,
	"content-encoding":  true,
}

// categoryKeywords maps a substring of a classified device_type to the
// mimic category it impersonates as. Checked in order so a more specific
// keyword can be listed ahead of a broader one.
var categoryKeywords = []struct {
	keyword  string
	category string
}{
	{"camera", "camera"},
	{"doorbell", "camera"},
	{"printer", "printer"},
	{"router", "router"},
	{"gateway", "router"},
	{"nas", "nas"},
	{"storage", "nas"},
	{"tv", "media"},
	{"media", "media"},
	{"speaker", "media"},
	{"chromecast", "media"},
	{"cast", "media"},
	{"light", "smart_home"},
	{"plug", "smart_home"},
	{"outlet", "smart_home"},
	{"thermostat", "smart_home"},
	{"sensor", "smart_home"},
	{"hub", "smart_home"},
	{"dev", "dev_server"},
	{"server", "dev_server"},
}

// mdnsServiceTypes names the mDNS service type advertised per category.
var mdnsServiceTypes = map[string]string{
	"smart_home": "_hap._tcp",
	"camera":     "_rtsp._tcp",
	"nas":        "_smb._tcp",
	"media":      "_airplay._tcp",
	"printer":    "_ipp._tcp",
	"router":     "_http._tcp",
	"dev_server": "_http._tcp",
	"generic":    "_http._tcp",
}

// credentialStrategies names the planted-credential approach per category.
// Categories not listed plant nothing.
var credentialStrategies = map[string]string{
	"router":     "default_admin_password",
	"camera":     "default_admin_password",
	"nas":        "weak_samba_guest",
	"smart_home": "none",
	"printer":    "none",
	"media":      "none",
	"dev_server": "env_file",
	"generic":    "none",
}

// categoryForDeviceType maps a freeform classified device type to a mimic
// category, defaulting to generic when nothing matches.
func categoryForDeviceType(deviceType string) string {
	lower := strings.ToLower(deviceType)
	for _, k := range categoryKeywords {
		if strings.Contains(lower, k.keyword) {
			return k.category
		}
	}
	return "generic"
}

// templateRoute is the JSON-encoded shape stored in MimicTemplate.RouteTable.
type templateRoute struct {
	Path    string            `json:"path"`
	Method  string            `json:"method"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// stripHopByHop returns a copy of headers with connection-scoped fields
// removed.
func stripHopByHop(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if hopByHopHeaders[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}
	return out
}

// dominantServerHeader returns the most common non-empty Server header
// across profiles, the tie going to whichever is encountered first.
func dominantServerHeader(profiles []*storage.ServiceProfile) string {
	counts := make(map[string]int)
	var order []string
	for _, p := range profiles {
		headers := decodeHeaders(p.Headers)
		server := headers["Server"]
		if server == "" {
			continue
		}
		if counts[server] == 0 {
			order = append(order, server)
		}
		counts[server]++
	}
	best := ""
	bestCount := 0
	for _, s := range order {
		if counts[s] > bestCount {
			best, bestCount = s, counts[s]
		}
	}
	return best
}

func decodeHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		return nil
	}
	return headers
}

// buildTemplate assembles a MimicTemplate from a device's classified type
// and its probed ServiceProfiles.
func buildTemplate(d *storage.Device, profiles []*storage.ServiceProfile) (*storage.MimicTemplate, error) {
	category := categoryForDeviceType(d.DeviceType)
	serverHeader := dominantServerHeader(profiles)

	routes := make([]templateRoute, 0, len(profiles))
	ports := make([]int, 0, len(profiles))
	for _, p := range profiles {
		status := p.HTTPStatus
		if status == 0 {
			status = 200
		}
		headers := stripHopByHop(decodeHeaders(p.Headers))
		if headers == nil {
			headers = map[string]string{}
		}
		if serverHeader != "" {
			headers["Server"] = serverHeader
		}
		routes = append(routes, templateRoute{
			Path:    "/",
			Method:  "GET",
			Status:  status,
			Headers: headers,
			Body:    p.BodySnippet,
		})
		ports = append(ports, p.Port)
	}
	sort.Ints(ports)

	routeJSON, err := json.Marshal(routes)
	if err != nil {
		return nil, fmt.Errorf("encode route table: %w", err)
	}
	portsJSON, err := json.Marshal(ports)
	if err != nil {
		return nil, fmt.Errorf("encode ports: %w", err)
	}

	return &storage.MimicTemplate{
		DeviceID:           d.ID,
		Category:           category,
		RouteTable:         string(routeJSON),
		ServerHeader:       serverHeader,
		CredentialStrategy: credentialStrategies[category],
		MDNSServiceType:    mdnsServiceTypes[category],
		Ports:              string(portsJSON),
	}, nil
}

// mdnsNameFor derives the deterministic mDNS hostname for (category, ip).
func mdnsNameFor(category, ip string) string {
	return fmt.Sprintf("%s-%s.local", category, strings.ReplaceAll(ip, ".", "-"))
}

// decodeRouteTable turns a MimicTemplate's stored RouteTable JSON into the
// decoy.RouteTable shape the emulator actually serves.
func decodeRouteTable(raw string) (decoy.RouteTable, error) {
	var routes []templateRoute
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &routes); err != nil {
			return nil, fmt.Errorf("decode route table: %w", err)
		}
	}
	table := make(decoy.RouteTable, len(routes)+1)
	for _, r := range routes {
		table[r.Method+" "+r.Path] = decoy.Route{
			Status:  r.Status,
			Headers: r.Headers,
			Body:    []byte(r.Body),
		}
	}
	if _, ok := table["GET /"]; !ok {
		table["GET /"] = decoy.Route{Status: 200, Headers: map[string]string{}, Body: []byte{}}
	}
	return table, nil
}

// decodePorts parses a MimicTemplate's stored Ports JSON.
func decodePorts(raw string) []int {
	var ports []int
	if raw == "" {
		return ports
	}
	_ = json.Unmarshal([]byte(raw), &ports)
	return ports
}
