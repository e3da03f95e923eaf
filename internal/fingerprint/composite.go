package fingerprint

import "strings"

// Composite holds the five optional signals extracted from a scan result.
// SignalCount and CompositeHash are pure functions of the other fields.
type Composite struct {
	MAC                   string
	MDNSHostname          string
	DHCPHash              string
	ConnectionPatternHash string
	OpenPortsHash         string

	SignalCount   int
	CompositeHash string
}

// NewComposite builds a Composite from the (already-normalized) signal
// values, computing SignalCount and CompositeHash. An empty string means
// "signal absent" for that field. With zero signals, CompositeHash is "".
//
// CompositeHash = SHA-256(concat(non-null signals in fixed field order:
// MAC, mDNS, DHCP-hash, conn-hash, ports-hash)).
func NewComposite(mac, mdnsHostname, dhcpHash, connHash, portsHash string) Composite {
	c := Composite{
		MAC:                   mac,
		MDNSHostname:          mdnsHostname,
		DHCPHash:              dhcpHash,
		ConnectionPatternHash: connHash,
		OpenPortsHash:         portsHash,
	}

	var present []string
	for _, v := range []string{mac, mdnsHostname, dhcpHash, connHash, portsHash} {
		if v != "" {
			present = append(present, v)
			c.SignalCount++
		}
	}
	if len(present) > 0 {
		c.CompositeHash = sha256Hex(strings.Join(present, ""))
	}
	return c
}
