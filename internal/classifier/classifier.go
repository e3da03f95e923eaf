// Package classifier resolves a device's manufacturer and device type from
// the signals gathered during a scan, through a short-circuiting chain of
// local lookups, an optional LLM fallback, and a final graceful default.
package classifier

// Result is the outcome of classifying a device's signals.
type Result struct {
	Manufacturer string  `json:"manufacturer"`
	DeviceType   string  `json:"device_type"`
	Model        string  `json:"model,omitempty"`
	Confidence   float64 `json:"confidence"`
	Source       string  `json:"source"`
}

// Signals are the classifier inputs gathered for one device during a scan.
type Signals struct {
	MAC          string
	MDNSHostname string
	MDNSServices []string
	DHCPOptions  []int
}
