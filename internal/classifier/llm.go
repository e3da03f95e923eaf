package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// LLMConfig configures the optional LLM fallback stage. A zero-value
// LLMConfig (empty BaseURL) disables the stage entirely.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// LLMClient talks to an OpenAI-compatible chat/completions endpoint to
// classify a device from its signals when the local signature DB misses.
type LLMClient struct {
	cfg    LLMConfig
	client *http.Client
}

// NewLLMClient builds a client from cfg. The caller should check
// cfg.BaseURL != "" before wiring this stage into a Chain.
func NewLLMClient(cfg LLMConfig) *LLMClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LLMClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type llmClassification struct {
	Manufacturer string  `json:"manufacturer"`
	DeviceType   string  `json:"device_type"`
	Model        string  `json:"model"`
	Confidence   float64 `json:"confidence"`
}

// Classify sends the given signals to the configured chat endpoint and
// parses the first JSON object out of the reply. Any network, parse, or
// schema failure is swallowed and reported via the bool return, never
// propagated as an error — the chain always has a graceful fallback.
func (c *LLMClient) Classify(ctx context.Context, sig Signals) (Result, bool) {
	prompt := buildPrompt(sig)

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: classifierSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, false
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, false
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, false
	}
	if len(parsed.Choices) == 0 {
		return Result{}, false
	}

	obj, ok := extractFirstJSONObject(parsed.Choices[0].Message.Content)
	if !ok {
		return Result{}, false
	}

	var lc llmClassification
	if err := json.Unmarshal([]byte(obj), &lc); err != nil {
		return Result{}, false
	}
	if lc.Manufacturer == "" || lc.DeviceType == "" {
		return Result{}, false
	}

	return Result{
		Manufacturer: lc.Manufacturer,
		DeviceType:   lc.DeviceType,
		Model:        lc.Model,
		Confidence:   lc.Confidence,
		Source:       "llm",
	}, true
}

const classifierSystemPrompt = `You identify network devices from partial signals. ` +
	`Respond with a single JSON object only: {"manufacturer": "...", "device_type": "...", "model": "...", "confidence": 0.0}. ` +
	`confidence is your certainty from 0 to 1. If you cannot determine a field, use "Unknown".`

func buildPrompt(sig Signals) string {
	var b strings.Builder
	b.WriteString("Signals observed for one device:\n")
	if sig.MAC != "" {
		fmt.Fprintf(&b, "MAC address: %s\n", sig.MAC)
	}
	if sig.MDNSHostname != "" {
		fmt.Fprintf(&b, "mDNS hostname: %s\n", sig.MDNSHostname)
	}
	if len(sig.MDNSServices) > 0 {
		fmt.Fprintf(&b, "mDNS services: %s\n", strings.Join(sig.MDNSServices, ", "))
	}
	if len(sig.DHCPOptions) > 0 {
		fmt.Fprintf(&b, "DHCP parameter request list: %v\n", sig.DHCPOptions)
	}
	return b.String()
}

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// extractFirstJSONObject strips any <think>...</think> reasoning block and
// markdown code fences, then returns the first balanced {...} substring.
func extractFirstJSONObject(s string) (string, bool) {
	s = thinkBlockRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "```json", "```")
	s = strings.ReplaceAll(s, "```", "")

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
