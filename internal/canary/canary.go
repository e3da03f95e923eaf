// Package canary implements the DNS canary monitor: it periodically pulls
// recently observed DNS queries from the privileged collaborator and
// checks them against the hostnames planted inside decoy content (see
// internal/decoy's dns_canary credentials), correlating a query against a
// planted value with no dependency on the querying host ever touching the
// decoy's HTTP listener directly.
package canary

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/rocketweb/squirrelops-sensor/internal/clock"
	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/incident"
	"github.com/rocketweb/squirrelops-sensor/internal/logging"
	"github.com/rocketweb/squirrelops-sensor/internal/privileged"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

// Config controls the monitor's poll cadence and which interface to sniff.
type Config struct {
	Interface    string
	PollInterval time.Duration
}

// DefaultConfig matches the component design's defaults.
func DefaultConfig() Config {
	return Config{Interface: "lan0", PollInterval: 15 * time.Second}
}

// Monitor polls the privileged collaborator for DNS queries and correlates
// them against planted canary hostnames.
type Monitor struct {
	store        *storage.Store
	bus          *eventbus.Bus
	inc          *incident.Aggregator
	collaborator privileged.Collaborator
	log          *logging.Logger
	cfg          Config

	mu        sync.Mutex
	lastPoll  time.Time
	hostnames map[string]*storage.PlantedCredential // normalized hostname -> credential
}

// New builds a Monitor. collaborator may be nil if no privileged process is
// configured, in which case Run exits immediately without polling — DNS
// canary detection simply degrades to unavailable, per spec §6's "optional
// collaborator" posture.
func New(store *storage.Store, bus *eventbus.Bus, inc *incident.Aggregator, collaborator privileged.Collaborator, cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.Interface == "" {
		cfg.Interface = DefaultConfig().Interface
	}
	return &Monitor{
		store:        store,
		bus:          bus,
		inc:          inc,
		collaborator: collaborator,
		log:          logging.WithComponent("canary"),
		cfg:          cfg,
	}
}

// normalizeQueryName canonicalizes a DNS query name the way resource record
// names are compared in the DNS spec (case-insensitive, fully-qualified),
// then strips the trailing dot since credential_value is stored without one.
func normalizeQueryName(name string) string {
	return strings.TrimSuffix(dns.CanonicalName(name), ".")
}

// loadCanaryHostnames refreshes the in-memory hostname -> credential map
// from storage. Called once at startup and after every credential the
// monitor doesn't yet know about turns up missing during a poll, so newly
// deployed decoys are picked up without a restart.
func (m *Monitor) loadCanaryHostnames(ctx context.Context) error {
	creds, err := m.store.ListCanaryCredentials(ctx)
	if err != nil {
		return err
	}
	hostnames := make(map[string]*storage.PlantedCredential, len(creds))
	for _, c := range creds {
		if c.CanaryHostname == "" {
			continue
		}
		hostnames[normalizeQueryName(c.CanaryHostname)] = c
	}
	m.mu.Lock()
	m.hostnames = hostnames
	m.mu.Unlock()
	return nil
}

// Run starts the sniffer (if a collaborator is configured) and polls until
// ctx is cancelled, observing the shutdown signal within the bounded grace
// period every suspension point implies.
func (m *Monitor) Run(ctx context.Context) error {
	if m.collaborator == nil {
		m.log.Info("no privileged collaborator configured, DNS canary detection disabled")
		return nil
	}
	if err := m.loadCanaryHostnames(ctx); err != nil {
		return err
	}
	if err := m.collaborator.StartDNSSniff(m.cfg.Interface); err != nil {
		m.log.Warn("failed to start dns sniff", "interface", m.cfg.Interface, "error", err)
		return err
	}
	defer func() {
		if err := m.collaborator.StopDNSSniff(m.cfg.Interface); err != nil {
			m.log.Warn("failed to stop dns sniff", "interface", m.cfg.Interface, "error", err)
		}
	}()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.poll(ctx); err != nil {
				m.log.Warn("dns canary poll failed", "error", err)
			}
		}
	}
}

// poll pulls queries observed since the last poll and checks each against
// the known canary hostnames, reloading the hostname set once per poll if
// a query doesn't match anything so freshly deployed decoys are caught up.
func (m *Monitor) poll(ctx context.Context) error {
	m.mu.Lock()
	since := m.lastPoll
	m.mu.Unlock()

	queries, err := m.collaborator.RecentDNSQueries(since)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.lastPoll = clock.Now()
	m.mu.Unlock()

	reloaded := false
	for _, q := range queries {
		name := normalizeQueryName(q.QueryName)

		m.mu.Lock()
		cred, ok := m.hostnames[name]
		m.mu.Unlock()

		if !ok {
			if reloaded {
				continue
			}
			reloaded = true
			if err := m.loadCanaryHostnames(ctx); err != nil {
				m.log.Warn("failed to reload canary hostnames", "error", err)
				continue
			}
			m.mu.Lock()
			cred, ok = m.hostnames[name]
			m.mu.Unlock()
			if !ok {
				continue
			}
		}

		if err := m.recordHit(ctx, cred, q); err != nil {
			m.log.Warn("failed to record canary observation", "hostname", name, "error", err)
		}
	}
	return nil
}

// recordHit persists the observation, marks the credential tripped, and
// raises a high-severity incident the same way a decoy's own
// credential_trip does.
func (m *Monitor) recordHit(ctx context.Context, cred *storage.PlantedCredential, q privileged.DNSQuery) error {
	obs := &storage.CanaryObservation{
		CredentialID: cred.ID,
		CanaryHost:   cred.CanaryHostname,
		QueriedByIP:  q.SourceIP,
		QueriedByMAC: q.SourceMAC,
	}
	if _, err := m.store.InsertCanaryObservation(ctx, obs); err != nil {
		return err
	}
	if err := m.store.MarkCredentialTripped(ctx, cred.ID); err != nil {
		m.log.Warn("failed to mark credential tripped", "credential_id", cred.ID, "error", err)
	}
	if cred.DecoyID != nil {
		if err := m.store.BumpCredentialTripCount(ctx, *cred.DecoyID); err != nil {
			m.log.Warn("failed to bump credential trip count", "decoy_id", *cred.DecoyID, "error", err)
		}
	}

	seq, err := m.bus.Publish(ctx, eventbus.EventDecoyCredentialTrip, map[string]any{
		"detection_method": "dns_canary",
		"canary_hostname":  cred.CanaryHostname,
		"source_ip":        q.SourceIP,
		"source_mac":       q.SourceMAC,
		"decoy_id":         cred.DecoyID,
	}, "")
	if err != nil {
		m.log.Warn("failed to publish dns canary trip", "error", err)
	}

	_, _, err = m.inc.Record(ctx, incident.Finding{
		AlertType: "decoy.credential_trip",
		Severity:  storage.SeverityHigh,
		Title:     "planted credential resolved via DNS canary",
		Detail:    "a host queried a canary hostname embedded only in planted decoy content: " + cred.CanaryHostname,
		SourceIP:  q.SourceIP,
		SourceMAC: q.SourceMAC,
		DecoyID:   cred.DecoyID,
		EventSeq:  &seq,
	})
	return err
}
