// Package matcher scores a freshly observed device fingerprint against the
// population of already-known devices and picks the best candidate match,
// if any candidate clears the minimum-evidence bar.
package matcher

import (
	"strconv"

	"github.com/rocketweb/squirrelops-sensor/internal/fingerprint"
)

// Weights controls how much each signal contributes to the weighted-average
// confidence score. They are re-normalized over whichever signals are
// actually present on a given candidate before use.
type Weights struct {
	MDNS        float64
	DHCP        float64
	Connections float64
	MAC         float64
	Ports       float64
}

// DefaultWeights are the out-of-the-box per-signal weights.
var DefaultWeights = Weights{
	MDNS:        0.30,
	DHCP:        0.25,
	Connections: 0.25,
	MAC:         0.10,
	Ports:       0.10,
}

// Observation is the freshly computed fingerprint plus the raw destination
// and port sets observed for a device in the current scan.
type Observation struct {
	Fingerprint            fingerprint.Composite
	ConnectionDestinations []string // "ip:port", already normalized
	OpenPorts              []int
}

// Candidate is a known device to score the observation against.
type Candidate struct {
	DeviceID               int64
	Fingerprint            fingerprint.Composite
	ConnectionDestinations []string
	OpenPorts              []int
}

// Match is the result of scoring one candidate.
type Match struct {
	DeviceID       int64
	Confidence     float64
	AutoApprovable bool
}

// Best scores obs against every candidate and returns the winner by the
// decision rules in order: MAC-exact-plus-corroboration auto-approves,
// two or more strong non-MAC signals is a full match, exactly one strong
// non-MAC signal is capped at 0.50, and anything weaker is skipped
// entirely. Ties break on highest confidence, then lowest DeviceID.
func Best(obs Observation, candidates []Candidate, weights Weights) (Match, bool) {
	var best Match
	found := false

	for _, cand := range candidates {
		m, ok := score(obs, cand, weights)
		if !ok {
			continue
		}
		if !found {
			best, found = m, true
			continue
		}
		if m.Confidence > best.Confidence {
			best = m
		} else if m.Confidence == best.Confidence && cand.DeviceID < best.DeviceID {
			best = m
		}
	}

	return best, found
}

type signalScore struct {
	weight     float64
	similarity float64
}

func score(obs Observation, cand Candidate, weights Weights) (Match, bool) {
	of, cf := obs.Fingerprint, cand.Fingerprint

	var present []signalScore
	strongNonMAC := 0
	macExact := false

	if of.MAC != "" && cf.MAC != "" {
		sim := 0.0
		if of.MAC == cf.MAC {
			sim = 1.0
			macExact = true
		}
		present = append(present, signalScore{weights.MAC, sim})
	}

	if of.MDNSHostname != "" && cf.MDNSHostname != "" {
		sim := stringSimilarity(of.MDNSHostname, cf.MDNSHostname)
		present = append(present, signalScore{weights.MDNS, sim})
		if sim >= 0.70 {
			strongNonMAC++
		}
	}

	if of.DHCPHash != "" && cf.DHCPHash != "" {
		sim := 0.0
		if of.DHCPHash == cf.DHCPHash {
			sim = 1.0
		}
		present = append(present, signalScore{weights.DHCP, sim})
		if sim >= 0.70 {
			strongNonMAC++
		}
	}

	if len(obs.ConnectionDestinations) > 0 && len(cand.ConnectionDestinations) > 0 {
		sim := jaccard(obs.ConnectionDestinations, cand.ConnectionDestinations)
		present = append(present, signalScore{weights.Connections, sim})
		if sim >= 0.70 {
			strongNonMAC++
		}
	}

	if len(obs.OpenPorts) > 0 && len(cand.OpenPorts) > 0 {
		sim := jaccard(intsToStrings(obs.OpenPorts), intsToStrings(cand.OpenPorts))
		present = append(present, signalScore{weights.Ports, sim})
		if sim >= 0.70 {
			strongNonMAC++
		}
	}

	if len(present) == 0 {
		return Match{}, false
	}

	weightedAvg := weightedAverage(present)

	switch {
	case macExact && strongNonMAC >= 1:
		conf := weightedAvg
		if conf < 0.75 {
			conf = 0.75
		}
		return Match{DeviceID: cand.DeviceID, Confidence: conf, AutoApprovable: true}, true
	case strongNonMAC >= 2:
		return Match{DeviceID: cand.DeviceID, Confidence: weightedAvg}, true
	case strongNonMAC == 1:
		conf := weightedAvg
		if conf > 0.50 {
			conf = 0.50
		}
		return Match{DeviceID: cand.DeviceID, Confidence: conf}, true
	default:
		return Match{}, false
	}
}

func weightedAverage(scores []signalScore) float64 {
	var totalWeight, totalScore float64
	for _, s := range scores {
		totalWeight += s.weight
		totalScore += s.weight * s.similarity
	}
	if totalWeight == 0 {
		return 0
	}
	return totalScore / totalWeight
}

func intsToStrings(ints []int) []string {
	out := make([]string, len(ints))
	for i, v := range ints {
		out[i] = strconv.Itoa(v)
	}
	return out
}
