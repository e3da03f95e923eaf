// Package insight implements the security insight analyzer: after each
// scan cycle it evaluates every device's open-port set against a risky-port
// rule table and maintains a per-(device, finding) dedup state so a
// standing risk alerts once, re-activates silently if it reappears, and is
// marked resolved when it's gone.
package insight

import (
	"context"
	"fmt"

	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/incident"
	"github.com/rocketweb/squirrelops-sensor/internal/logging"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

// Analyzer evaluates devices against the port-risk rule table.
type Analyzer struct {
	store *storage.Store
	bus   *eventbus.Bus
	inc   *incident.Aggregator
	log   *logging.Logger
}

// New builds an Analyzer.
func New(store *storage.Store, bus *eventbus.Bus, inc *incident.Aggregator) *Analyzer {
	return &Analyzer{store: store, bus: bus, inc: inc, log: logging.WithComponent("insight")}
}

// finding is one risky-port (or unencrypted-admin-port) match for a device.
type finding struct {
	key         string
	severity    storage.Severity
	title       string
	detail      string
}

// AnalyzeAll runs the analyzer over every known device. Call this after
// each scan cycle completes.
func (a *Analyzer) AnalyzeAll(ctx context.Context) error {
	devices, err := a.store.ListDevices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		if err := a.AnalyzeDevice(ctx, d); err != nil {
			a.log.Warn("insight analysis failed", "device_id", d.ID, "error", err)
		}
	}
	return nil
}

// AnalyzeDevice evaluates one device's open ports, emitting/reactivating
// alerts for new or persisting findings and resolving ones that are gone.
func (a *Analyzer) AnalyzeDevice(ctx context.Context, d *storage.Device) error {
	ports, err := a.store.ListOpenPorts(ctx, d.ID)
	if err != nil {
		return err
	}

	findings := evaluate(d, ports)

	active := make([]string, 0, len(findings))
	for _, f := range findings {
		active = append(active, f.key)
		if err := a.apply(ctx, d, f); err != nil {
			return err
		}
	}

	return a.store.ResolveInsightStates(ctx, d.ID, active)
}

// evaluate applies the port-risk table and the unencrypted-admin-port rule
// to one device's open ports.
func evaluate(d *storage.Device, ports []*storage.DeviceOpenPort) []finding {
	open := make(map[int]bool, len(ports))
	for _, p := range ports {
		open[p.Port] = true
	}

	var findings []finding
	for port := range open {
		rule, ok := portRiskTable[port]
		if !ok {
			continue
		}
		if rule.expectedOn[d.DeviceType] {
			continue
		}
		findings = append(findings, finding{
			key:      fmt.Sprintf("risky_port:%d", port),
			severity: rule.severity,
			title:    fmt.Sprintf("risky port %d open", port),
			detail:   rule.description + " " + rule.remediation,
		})
	}

	if !adminDeviceTypes[d.DeviceType] {
		hasAdmin, adminPort := false, 0
		for port := range open {
			if unencryptedAdminPorts[port] {
				hasAdmin, adminPort = true, port
				break
			}
		}
		hasEncrypted := false
		for port := range open {
			if encryptedCompanionPorts[port] {
				hasEncrypted = true
				break
			}
		}
		if hasAdmin && !hasEncrypted {
			findings = append(findings, finding{
				key:      fmt.Sprintf("risky_port:%d", adminPort),
				severity: storage.SeverityMedium,
				title:    fmt.Sprintf("unencrypted admin interface on port %d", adminPort),
				detail:   "an admin-style HTTP port is open with no TLS-equivalent companion port on the same device.",
			})
		}
	}

	return findings
}

// apply reconciles one finding against its SecurityInsightState row per
// spec §4.13: new finding -> alert + state row; previously-resolved finding
// reappearing -> silent re-activation; otherwise no-op.
func (a *Analyzer) apply(ctx context.Context, d *storage.Device, f finding) error {
	st, err := a.store.GetInsightState(ctx, d.ID, f.key)
	switch err {
	case storage.ErrNotFound:
		alertID, _, recErr := a.inc.Record(ctx, incident.Finding{
			AlertType: "security_insight",
			Severity:  f.severity,
			Title:     f.title,
			Detail:    f.detail,
			SourceIP:  d.IPAddress,
			SourceMAC: d.MACAddress,
			DeviceID:  &d.ID,
		})
		if recErr != nil {
			return recErr
		}
		return a.store.InsertInsightState(ctx, d.ID, f.key, alertID)
	case nil:
		if st.ResolvedAt != nil {
			return a.store.ReactivateInsightState(ctx, st.ID)
		}
		return nil
	default:
		return err
	}
}
