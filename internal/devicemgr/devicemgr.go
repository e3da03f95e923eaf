// Package devicemgr turns raw scan signals into device identity: it
// normalizes signals, computes a composite fingerprint, matches against
// known devices, and decides whether to update, flag for verification, or
// create a device row.
package devicemgr

import (
	"context"
	"fmt"

	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/fingerprint"
	"github.com/rocketweb/squirrelops-sensor/internal/logging"
	"github.com/rocketweb/squirrelops-sensor/internal/matcher"
	"github.com/rocketweb/squirrelops-sensor/internal/registry"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

// Thresholds for the match decision. AutoApprove requires the existing
// device to also carry trust=approved; Verify only requires the score.
const (
	AutoApproveThreshold = 0.75
	VerifyThreshold      = 0.50
)

// ScanResult is the raw, not-yet-normalized signal set observed for one
// device during a scan cycle.
type ScanResult struct {
	IPAddress              string
	MAC                    string
	MDNSHostname           string
	DHCPOptionCodes        []int
	ConnectionDestinations []fingerprint.ConnDestination
	OpenPorts              []int

	// Manufacturer/DeviceType, if already resolved by the classifier chain.
	// Left empty if unavailable — they never override an approved device's
	// existing values unless those are still "Unknown".
	Vendor     string
	DeviceType string
}

// Manager owns the normalize -> fingerprint -> match -> decide pipeline.
type Manager struct {
	store   *storage.Store
	bus     *eventbus.Bus
	log     *logging.Logger
	weights matcher.Weights
}

// New builds a Manager with the default matcher weights.
func New(store *storage.Store, bus *eventbus.Bus) *Manager {
	return &Manager{
		store:   store,
		bus:     bus,
		log:     logging.WithComponent("devicemgr"),
		weights: matcher.DefaultWeights,
	}
}

// ProcessScanResult runs the full pipeline for one observed device and
// returns the device row it updated or created. last_seen is bumped on
// every call; custom_name is never written by this path.
func (m *Manager) ProcessScanResult(ctx context.Context, sr ScanResult) (*storage.Device, error) {
	mac, _ := fingerprint.NormalizeMAC(sr.MAC)
	mdnsHostname := fingerprint.NormalizeMDNSHostname(sr.MDNSHostname)

	var dhcpHash string
	if len(sr.DHCPOptionCodes) > 0 {
		dhcpHash = fingerprint.HashDHCPOptions(sr.DHCPOptionCodes)
	}
	var connHash string
	if len(sr.ConnectionDestinations) > 0 {
		connHash = fingerprint.HashConnectionPattern(sr.ConnectionDestinations)
	}
	var portsHash string
	if len(sr.OpenPorts) > 0 {
		portsHash = fingerprint.HashOpenPorts(sr.OpenPorts)
	}

	composite := fingerprint.NewComposite(mac, mdnsHostname, dhcpHash, connHash, portsHash)

	candidates, err := m.buildCandidates(ctx)
	if err != nil {
		return nil, err
	}

	connDestStrings := make([]string, len(sr.ConnectionDestinations))
	for i, d := range sr.ConnectionDestinations {
		connDestStrings[i] = fmt.Sprintf("%s:%d", fingerprint.NormalizeConnDestination(d.IP), d.Port)
	}

	obs := matcher.Observation{
		Fingerprint:            composite,
		ConnectionDestinations: connDestStrings,
		OpenPorts:              sr.OpenPorts,
	}

	match, matched := matcher.Best(obs, candidates, m.weights)

	switch {
	case matched && match.Confidence >= AutoApproveThreshold:
		trust, err := m.store.GetTrust(ctx, match.DeviceID)
		if err != nil {
			return nil, err
		}
		if trust.Status == storage.TrustApproved {
			return m.updateInPlace(ctx, match.DeviceID, sr, composite)
		}
		return m.flagForVerification(ctx, match.DeviceID, sr, composite)

	case matched && match.Confidence >= VerifyThreshold:
		return m.flagForVerification(ctx, match.DeviceID, sr, composite)

	default:
		return m.createDevice(ctx, sr, composite)
	}
}

func (m *Manager) buildCandidates(ctx context.Context) ([]matcher.Candidate, error) {
	fps, err := m.store.ListFingerprints(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]matcher.Candidate, 0, len(fps))
	for _, f := range fps {
		ports, err := m.store.ListOpenPorts(ctx, f.DeviceID)
		if err != nil {
			return nil, err
		}
		portNums := make([]int, len(ports))
		for i, p := range ports {
			portNums[i] = p.Port
		}
		dests, err := m.store.ListBaselineDestinations(ctx, f.DeviceID)
		if err != nil {
			return nil, err
		}
		out = append(out, matcher.Candidate{
			DeviceID: f.DeviceID,
			Fingerprint: fingerprint.Composite{
				MAC:                   f.MAC,
				MDNSHostname:          f.MDNSHostname,
				DHCPHash:              f.DHCPHash,
				ConnectionPatternHash: f.ConnectionPatternHash,
				OpenPortsHash:         f.OpenPortsHash,
				CompositeHash:         f.CompositeHash,
				SignalCount:           f.SignalCount,
			},
			ConnectionDestinations: dests,
			OpenPorts:              portNums,
		})
	}
	return out, nil
}

func (m *Manager) updateInPlace(ctx context.Context, id int64, sr ScanResult, composite fingerprint.Composite) (*storage.Device, error) {
	d, err := m.store.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	m.applyObservedFields(d, sr)
	if _, err := m.store.UpsertDevice(ctx, d); err != nil {
		return nil, err
	}
	if err := m.persistFingerprint(ctx, id, composite); err != nil {
		return nil, err
	}
	m.publish(ctx, eventbus.EventDeviceUpdated, deviceEventPayload(d))
	return d, nil
}

func (m *Manager) flagForVerification(ctx context.Context, id int64, sr ScanResult, composite fingerprint.Composite) (*storage.Device, error) {
	d, err := m.store.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	m.applyObservedFields(d, sr)
	if _, err := m.store.UpsertDevice(ctx, d); err != nil {
		return nil, err
	}
	if err := m.persistFingerprint(ctx, id, composite); err != nil {
		return nil, err
	}
	m.publish(ctx, eventbus.EventDeviceVerificationNeeded, deviceEventPayload(d))
	return d, nil
}

func (m *Manager) createDevice(ctx context.Context, sr ScanResult, composite fingerprint.Composite) (*storage.Device, error) {
	d := &storage.Device{
		IPAddress:  sr.IPAddress,
		MACAddress: composite.MAC,
		Hostname:   composite.MDNSHostname,
		Vendor:     sr.Vendor,
		DeviceType: sr.DeviceType,
		IsOnline:   true,
	}
	if d.Vendor == "" {
		d.Vendor = "Unknown"
	}
	if d.DeviceType == "" {
		d.DeviceType = "unknown"
	}

	id, err := m.store.UpsertDevice(ctx, d)
	if err != nil {
		return nil, err
	}
	d.ID = id

	if err := m.store.SetTrust(ctx, &storage.DeviceTrust{DeviceID: id, Status: storage.TrustUnknown}); err != nil {
		return nil, err
	}
	if err := m.persistFingerprint(ctx, id, composite); err != nil {
		return nil, err
	}

	m.publish(ctx, eventbus.EventDeviceDiscovered, deviceEventPayload(d))
	return d, nil
}

// applyObservedFields updates every field a scan can refresh without ever
// touching CustomName.
func (m *Manager) applyObservedFields(d *storage.Device, sr ScanResult) {
	if sr.IPAddress != "" {
		d.IPAddress = sr.IPAddress
	}
	d.IsOnline = true
}

func (m *Manager) persistFingerprint(ctx context.Context, deviceID int64, composite fingerprint.Composite) error {
	return m.store.UpsertFingerprint(ctx, &storage.DeviceFingerprint{
		DeviceID:              deviceID,
		MAC:                   composite.MAC,
		MDNSHostname:          composite.MDNSHostname,
		DHCPHash:              composite.DHCPHash,
		ConnectionPatternHash: composite.ConnectionPatternHash,
		OpenPortsHash:         composite.OpenPortsHash,
		CompositeHash:         composite.CompositeHash,
		SignalCount:           composite.SignalCount,
	})
}

// EnrichDevice joins an external home-automation registry export by
// normalized MAC and updates hostname/model_name/vendor/area. vendor is
// only overwritten if it was previously "Unknown"; custom_name is never
// touched.
func (m *Manager) EnrichDevice(ctx context.Context, mac, hostname, modelName, vendor, area string) error {
	normMAC, err := fingerprint.NormalizeMAC(mac)
	if err != nil {
		return nil // unparseable MAC in the registry export, skip silently
	}
	d, err := m.store.GetDeviceByMAC(ctx, normMAC)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return err
	}

	if hostname != "" {
		d.Hostname = hostname
	}
	if modelName != "" {
		d.ModelName = modelName
	}
	if vendor != "" && d.Vendor == "Unknown" {
		d.Vendor = vendor
	}
	if area != "" {
		d.Area = area
	}

	if _, err := m.store.UpsertDevice(ctx, d); err != nil {
		return err
	}
	m.publish(ctx, eventbus.EventDeviceUpdated, deviceEventPayload(d))
	return nil
}

// EnrichFromRegistry joins an entire registry export in one pass: it
// resolves each device's area_id against areas, then calls EnrichDevice
// once per MAC address the device export carries (a registry device can
// list more than one, e.g. a multi-NIC host). One device's failure never
// stops the rest of the batch.
func (m *Manager) EnrichFromRegistry(ctx context.Context, devices []registry.Device, areas []registry.Area) error {
	areaNames := make(map[string]string, len(areas))
	for _, a := range areas {
		areaNames[a.ID] = a.Name
	}

	var firstErr error
	for _, d := range devices {
		area := areaNames[d.AreaID]
		for _, mac := range d.MACAddresses {
			if err := m.EnrichDevice(ctx, mac, d.Name, d.Model, d.Manufacturer, area); err != nil {
				m.log.Warn("registry enrichment failed", "mac", mac, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

func (m *Manager) publish(ctx context.Context, eventType eventbus.EventType, payload any) {
	if _, err := m.bus.Publish(ctx, eventType, payload, ""); err != nil {
		m.log.WithFields(map[string]any{"event_type": string(eventType)}).Warn("failed to publish device event", "error", err)
	}
}

func deviceEventPayload(d *storage.Device) map[string]any {
	return map[string]any{
		"device_id":   d.ID,
		"ip_address":  d.IPAddress,
		"mac_address": d.MACAddress,
		"hostname":    d.Hostname,
		"vendor":      d.Vendor,
		"device_type": d.DeviceType,
		"area":        d.Area,
	}
}

