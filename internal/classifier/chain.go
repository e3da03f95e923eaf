package classifier

import (
	"context"

	"github.com/rocketweb/squirrelops-sensor/internal/fingerprint"
)

// Chain runs the three-stage classification pipeline: local signature DB,
// optional LLM fallback, then a graceful unknown default.
type Chain struct {
	llm *LLMClient
}

// NewChain builds a Chain. llm may be nil to disable the LLM stage
// entirely, which is also what happens when cfg.BaseURL is empty.
func NewChain(llm *LLMClient) *Chain {
	return &Chain{llm: llm}
}

// Classify runs the chain against sig, short-circuiting on the first
// stage that produces a result.
func (c *Chain) Classify(ctx context.Context, sig Signals) Result {
	if r, ok := classifyLocal(sig); ok {
		return r
	}

	if c.llm != nil {
		if r, ok := c.llm.Classify(ctx, sig); ok {
			return r
		}
	}

	return Result{
		Manufacturer: "Unknown",
		DeviceType:   "unknown",
		Confidence:   0.10,
		Source:       "fallback",
	}
}

// classifyLocal runs every applicable local lookup and returns the
// highest-confidence hit, if any.
func classifyLocal(sig Signals) (Result, bool) {
	var best Result
	found := false

	if sig.MAC != "" {
		if manufacturer, conf, ok := lookupOUI(sig.MAC); ok {
			candidate := Result{Manufacturer: manufacturer, DeviceType: "unknown", Confidence: conf, Source: "oui"}
			if !found || candidate.Confidence > best.Confidence {
				best, found = candidate, true
			}
		}
	}

	if sig.MDNSHostname != "" {
		if deviceType, conf, ok := lookupMDNS(sig.MDNSHostname); ok {
			candidate := Result{DeviceType: deviceType, Confidence: conf, Source: "mdns"}
			if !found || candidate.Confidence > best.Confidence {
				best, found = candidate, true
			}
		}
	}

	if len(sig.DHCPOptions) > 0 {
		hash := fingerprint.HashDHCPOptions(sig.DHCPOptions)
		if deviceType, conf, ok := lookupDHCP(hash); ok {
			candidate := Result{DeviceType: deviceType, Confidence: conf, Source: "dhcp"}
			if !found || candidate.Confidence > best.Confidence {
				best, found = candidate, true
			}
		}
	}

	if found && best.Manufacturer == "" {
		best.Manufacturer = "Unknown"
	}
	if found && best.DeviceType == "" {
		best.DeviceType = "unknown"
	}

	return best, found
}
