package classifier

import "github.com/rocketweb/squirrelops-sensor/internal/fingerprint"

// dhcpSignatures maps a DHCP parameter-request-list hash (as produced by
// fingerprint.HashDHCPOptions) to the device type it's characteristic of.
// These are collected from known OS/firmware DHCP client fingerprints; the
// table is deliberately small and only grows as real collisions are found.
var dhcpSignatures = map[string]struct {
	deviceType string
	confidence float64
}{
	fingerprint.HashDHCPOptions([]int{1, 3, 6, 15, 31, 33, 43, 44, 46, 47, 119, 121, 249, 252}): {"Windows", 0.55},
	fingerprint.HashDHCPOptions([]int{1, 3, 6, 15, 119, 95, 252, 44, 46}):                       {"macOS/iOS", 0.55},
	fingerprint.HashDHCPOptions([]int{1, 121, 33, 3, 6, 15, 26, 28, 51, 58, 59}):                {"Android", 0.55},
	fingerprint.HashDHCPOptions([]int{1, 3, 28, 6}):                                             {"Embedded/IoT", 0.40},
}

// lookupDHCP matches a hash of observed DHCP option numbers against the
// known-signature table.
func lookupDHCP(optionHash string) (deviceType string, confidence float64, ok bool) {
	if optionHash == "" {
		return "", 0, false
	}
	if sig, hit := dhcpSignatures[optionHash]; hit {
		return sig.deviceType, sig.confidence, true
	}
	return "", 0, false
}
