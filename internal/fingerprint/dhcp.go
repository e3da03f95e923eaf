package fingerprint

import (
	"sort"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// NormalizeDHCPOptions takes the raw set of DHCP option numbers observed on
// a lease (e.g. the Parameter Request List, option 55) and returns them as
// a deduplicated, ascending slice of dhcpv4.OptionCode values. It follows
// the option-number semantics of dhcpv4.OptionCode rather than inventing a
// parallel numbering, so the hash a caller feeds to HashDHCPOptions lines
// up with any other DHCP-aware component in the stack.
func NormalizeDHCPOptions(raw []uint8) []int {
	seen := make(map[int]bool, len(raw))
	out := make([]int, 0, len(raw))
	for _, b := range raw {
		code := dhcpv4.GenericOptionCode(b)
		n := int(code.Code())
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
