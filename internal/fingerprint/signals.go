// Package fingerprint implements the five pure signal normalizers and the
// composite-hash derivation that together identify a device across scans.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var macHexRe = regexp.MustCompile(`^[0-9A-Fa-f]{12}$`)

// NormalizeMAC accepts colon, dash, dot-3-groups, or compact 12-hex forms,
// zero-pads single-digit octets, and returns "AA:BB:CC:DD:EE:FF". It
// returns an error for anything that does not resolve to 12 hex digits.
// Idempotent: NormalizeMAC(NormalizeMAC(x)) == NormalizeMAC(x).
func NormalizeMAC(mac string) (string, error) {
	raw := strings.ToUpper(strings.TrimSpace(mac))
	raw = strings.NewReplacer(":", "", "-", "", ".", "").Replace(raw)

	if !macHexRe.MatchString(raw) {
		// Try zero-padding single-digit octets from colon/dash/dot forms.
		parts := splitOctets(mac)
		if len(parts) != 6 {
			return "", fmt.Errorf("fingerprint: invalid MAC address %q", mac)
		}
		var b strings.Builder
		for _, p := range parts {
			p = strings.ToUpper(strings.TrimSpace(p))
			if len(p) == 1 {
				p = "0" + p
			}
			if len(p) != 2 || !macHexRe.MatchString(p + "0000000000") {
				return "", fmt.Errorf("fingerprint: invalid MAC address %q", mac)
			}
			b.WriteString(p)
		}
		raw = b.String()
		if !macHexRe.MatchString(raw) {
			return "", fmt.Errorf("fingerprint: invalid MAC address %q", mac)
		}
	}

	var out strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			out.WriteByte(':')
		}
		out.WriteString(raw[i : i+2])
	}
	return out.String(), nil
}

func splitOctets(mac string) []string {
	for _, sep := range []string{":", "-", "."} {
		if strings.Contains(mac, sep) {
			parts := strings.Split(mac, sep)
			if sep == "." && len(parts) == 3 {
				// dot-3-groups form: aabb.ccdd.eeff
				var octets []string
				for _, p := range parts {
					if len(p) != 4 {
						return nil
					}
					octets = append(octets, p[:2], p[2:])
				}
				return octets
			}
			return parts
		}
	}
	return nil
}

var dashRunRe = regexp.MustCompile(`-+`)

// NormalizeMDNSHostname trims, lowercases, strips a trailing ".local" or
// ".local.", and collapses runs of "-" to a single "-". Idempotent.
func NormalizeMDNSHostname(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimSuffix(s, ".local")
	s = dashRunRe.ReplaceAllString(s, "-")
	return s
}

// NormalizeConnDestination canonicalizes an IPv6 link-local address by
// stripping its zone-id suffix ("%eth0") before it takes part in a
// connection-pattern hash, so the same peer hashes identically regardless
// of which local interface observed it.
func NormalizeConnDestination(ip string) string {
	if i := strings.IndexByte(ip, '%'); i >= 0 {
		return ip[:i]
	}
	return ip
}

// HashDHCPOptions sorts option numbers ascending, joins with ",", and
// returns the SHA-256 hex digest. Stable under reordering of the input.
func HashDHCPOptions(opts []int) string {
	sorted := append([]int(nil), opts...)
	sort.Ints(sorted)
	strs := make([]string, len(sorted))
	for i, o := range sorted {
		strs[i] = strconv.Itoa(o)
	}
	return sha256Hex(strings.Join(strs, ","))
}

// ConnDestination is one observed (ip, port) pair.
type ConnDestination struct {
	IP   string
	Port int
}

// HashConnectionPattern formats each destination as "ip:port", sorts
// lexicographically, joins with ",", and returns the SHA-256 hex digest.
func HashConnectionPattern(dests []ConnDestination) string {
	strs := make([]string, len(dests))
	for i, d := range dests {
		strs[i] = fmt.Sprintf("%s:%d", NormalizeConnDestination(d.IP), d.Port)
	}
	sort.Strings(strs)
	return sha256Hex(strings.Join(strs, ","))
}

// HashOpenPorts sorts ports ascending, joins with ",", and returns the
// SHA-256 hex digest.
func HashOpenPorts(ports []int) string {
	sorted := append([]int(nil), ports...)
	sort.Ints(sorted)
	strs := make([]string, len(sorted))
	for i, p := range sorted {
		strs[i] = strconv.Itoa(p)
	}
	return sha256Hex(strings.Join(strs, ","))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
