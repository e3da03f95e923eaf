// Package decoy runs HTTP-emulating deception services: it starts and
// stops them, plants synthetic credentials, detects their use in inbound
// requests, and supervises their health with a bounded restart budget.
package decoy

import "time"

// Config tunes the orchestrator's deployment and health-supervision
// behavior. Defaults mirror a small home network.
type Config struct {
	MaxDecoys           int
	HealthCheckInterval time.Duration
	RestartMaxAttempts  int
	RestartWindow       time.Duration
}

// DefaultConfig returns the orchestrator's out-of-the-box tuning.
func DefaultConfig() Config {
	return Config{
		MaxDecoys:           8,
		HealthCheckInterval: 30 * time.Second,
		RestartMaxAttempts:  3,
		RestartWindow:       10 * time.Minute,
	}
}

// Route is one static response in an archetype's route table, keyed by
// (path, method).
type Route struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// RouteTable maps "METHOD path" to the static response an emulator serves.
type RouteTable map[string]Route

func routeKey(method, path string) string {
	return method + " " + path
}

// archetype bundles one decoy personality's route table and the synthetic
// credentials it plants. Built fresh on every deploy so planted values are
// never reused across decoys.
type archetype struct {
	decoyType   string
	displayName string
	routes      RouteTable
	credentials []generatedCredential
}

// ConnectionEvent is one observed inbound connection to a running decoy.
type ConnectionEvent struct {
	SourceIP       string
	SourcePort     int
	DestPort       int
	Protocol       string
	RequestPath    string
	CredentialUsed string
	Timestamp      time.Time
}
