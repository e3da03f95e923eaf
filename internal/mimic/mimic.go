// Package mimic implements the mimic pipeline: it turns a device's probed
// ServiceProfiles into a static impersonation template, allocates a
// virtual IP to serve it from, deploys an HTTP decoy bound to that IP with
// the privileged collaborator aliasing the interface and redirecting
// privileged ports, and reverses all of that on removal. On boot,
// LoadFromDB re-aliases whatever virtual IPs survived the last run.
package mimic

import (
	"context"
	"fmt"
	"sync"

	"github.com/rocketweb/squirrelops-sensor/internal/decoy"
	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/logging"
	"github.com/rocketweb/squirrelops-sensor/internal/privileged"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

// privilegedPortOffset is added to a privileged (<1024) port to get the
// high port the decoy itself actually binds; the privileged collaborator
// redirects the low port to it.
const privilegedPortOffset = 10000

// Config tunes deployment bounds and the network the virtual IP pool is
// carved from.
type Config struct {
	Interface      string
	InterfaceMask  string
	MaxMimicDecoys int
	MaxVirtualIPs  int
	Allocator      AllocatorConfig
}

// DefaultConfig matches the component design's defaults.
func DefaultConfig() Config {
	return Config{
		Interface:      "lan0",
		InterfaceMask:  "255.255.255.0",
		MaxMimicDecoys: 5,
		MaxVirtualIPs:  5,
		Allocator:      DefaultAllocatorConfig(),
	}
}

// runningMimic is one live deployment's in-memory state.
type runningMimic struct {
	virtualIP string
	decoyID   int64
	category  string
	mdnsName  string
	ports     []int
	em        *decoy.Emulator
}

// Manager owns every live mimic deployment.
type Manager struct {
	store        *storage.Store
	bus          *eventbus.Bus
	collaborator privileged.Collaborator
	log          *logging.Logger
	cfg          Config
	alloc        *Allocator

	mu      sync.Mutex
	running map[string]*runningMimic // virtual IP -> deployment
}

// New builds a Manager. collaborator may be nil, in which case Deploy
// fails fast rather than attempting an alias/redirect it has no way to
// install.
func New(store *storage.Store, bus *eventbus.Bus, collaborator privileged.Collaborator, cfg Config) (*Manager, error) {
	if cfg.MaxMimicDecoys <= 0 {
		cfg.MaxMimicDecoys = DefaultConfig().MaxMimicDecoys
	}
	if cfg.MaxVirtualIPs <= 0 {
		cfg.MaxVirtualIPs = DefaultConfig().MaxVirtualIPs
	}
	if cfg.Interface == "" {
		cfg.Interface = DefaultConfig().Interface
	}
	if cfg.InterfaceMask == "" {
		cfg.InterfaceMask = DefaultConfig().InterfaceMask
	}
	alloc, err := NewAllocator(cfg.Allocator)
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:        store,
		bus:          bus,
		collaborator: collaborator,
		log:          logging.WithComponent("mimic"),
		cfg:          cfg,
		alloc:        alloc,
		running:      make(map[string]*runningMimic),
	}, nil
}

// GenerateTemplate builds and persists a MimicTemplate for device from its
// probed ServiceProfiles.
func (m *Manager) GenerateTemplate(ctx context.Context, device *storage.Device) (*storage.MimicTemplate, error) {
	profiles, err := m.store.ListServiceProfiles(ctx, device.ID)
	if err != nil {
		return nil, err
	}
	tmpl, err := buildTemplate(device, profiles)
	if err != nil {
		return nil, err
	}
	tmpl.MDNSName = mdnsNameFor(tmpl.Category, "0.0.0.0") // placeholder until a virtual IP is assigned at deploy time
	if _, err := m.store.InsertMimicTemplate(ctx, tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// Deploy allocates a virtual IP for tmpl, aliases it, persists the
// VirtualIP row, starts the mimic decoy bound to it, and installs
// packet-filter redirects for every privileged port the template serves.
func (m *Manager) Deploy(ctx context.Context, tmpl *storage.MimicTemplate) (string, error) {
	if m.collaborator == nil {
		return "", fmt.Errorf("mimic deploy: no privileged collaborator configured")
	}

	m.mu.Lock()
	if len(m.running) >= m.cfg.MaxMimicDecoys {
		m.mu.Unlock()
		return "", fmt.Errorf("mimic deploy: at max_mimic_decoys (%d)", m.cfg.MaxMimicDecoys)
	}
	m.mu.Unlock()

	if n, err := m.store.ListLiveVirtualIPs(ctx); err == nil && len(n) >= m.cfg.MaxVirtualIPs {
		return "", fmt.Errorf("mimic deploy: at max_virtual_ips (%d)", m.cfg.MaxVirtualIPs)
	}

	vip, err := m.alloc.Allocate()
	if err != nil {
		return "", fmt.Errorf("mimic deploy: %w", err)
	}

	ok, err := m.collaborator.AddIPAlias(vip, m.cfg.Interface, m.cfg.InterfaceMask)
	if err != nil || !ok {
		m.alloc.Release(vip)
		return "", fmt.Errorf("mimic deploy: add ip alias for %s: %w", vip, err)
	}

	decoyRow := &storage.Decoy{
		Name:        fmt.Sprintf("mimic-%s-%s", tmpl.Category, vip),
		DecoyType:   "mimic:" + tmpl.Category,
		BindAddress: vip,
		Status:      storage.DecoyActive,
	}
	decoyID, err := m.store.UpsertDecoy(ctx, decoyRow)
	if err != nil {
		m.rollbackAlias(vip)
		return "", err
	}

	vRow := &storage.VirtualIP{IPAddress: vip, Interface: m.cfg.Interface, DecoyID: &decoyID}
	if _, err := m.store.AllocateVirtualIP(ctx, vRow); err != nil {
		m.rollbackAlias(vip)
		return "", err
	}

	routes, err := decodeRouteTable(tmpl.RouteTable)
	if err != nil {
		m.rollbackAlias(vip)
		return "", err
	}
	ports := decodePorts(tmpl.Ports)

	em := decoy.NewEmulator(vip, 0, routes, nil, func(ev decoy.ConnectionEvent) {
		m.handleConnection(context.Background(), decoyID, vip, ev)
	})
	boundPort, err := em.Start()
	if err != nil {
		m.rollbackAlias(vip)
		return "", err
	}
	decoyRow.ID = decoyID
	decoyRow.Port = boundPort
	if _, err := m.store.UpsertDecoy(ctx, decoyRow); err != nil {
		m.log.Warn("failed to persist mimic decoy bound port", "decoy_id", decoyID, "error", err)
	}

	if err := m.installPortForwards(vip, ports); err != nil {
		m.log.Warn("failed to install port forwards", "virtual_ip", vip, "error", err)
	}

	mdnsName := mdnsNameFor(tmpl.Category, vip)
	if err := announceHostname(mdnsName, vip); err != nil {
		m.log.Warn("failed to announce mdns hostname", "hostname", mdnsName, "error", err)
	}

	m.mu.Lock()
	m.running[vip] = &runningMimic{virtualIP: vip, decoyID: decoyID, category: tmpl.Category, mdnsName: mdnsName, ports: ports, em: em}
	m.mu.Unlock()

	if _, err := m.bus.Publish(ctx, eventbus.EventMimicDeployed, map[string]any{
		"virtual_ip": vip, "category": tmpl.Category, "decoy_id": decoyID, "device_id": tmpl.DeviceID,
	}, ""); err != nil {
		m.log.Warn("failed to publish mimic deployed", "error", err)
	}

	return vip, nil
}

// Remove reverses Deploy in the opposite order: mDNS withdrawal, port
// forward removal, decoy stop, IP alias removal, then the VirtualIP row is
// marked released and the address returned to the allocator.
func (m *Manager) Remove(ctx context.Context, vip string) error {
	m.mu.Lock()
	running, ok := m.running[vip]
	if ok {
		delete(m.running, vip)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("mimic remove: no running deployment for %s", vip)
	}

	if err := withdrawHostname(running.mdnsName, vip); err != nil {
		m.log.Warn("failed to withdraw mdns hostname", "hostname", running.mdnsName, "error", err)
	}

	if err := m.clearPortForwards(vip); err != nil {
		m.log.Warn("failed to clear port forwards", "virtual_ip", vip, "error", err)
	}

	if err := running.em.Stop(ctx); err != nil {
		m.log.Warn("failed to stop mimic decoy", "virtual_ip", vip, "error", err)
	}

	if m.collaborator != nil {
		if _, err := m.collaborator.RemoveIPAlias(vip, m.cfg.Interface); err != nil {
			m.log.Warn("failed to remove ip alias", "virtual_ip", vip, "error", err)
		}
	}

	if err := m.store.ReleaseVirtualIP(ctx, vip); err != nil {
		m.log.Warn("failed to mark virtual ip released", "virtual_ip", vip, "error", err)
	}
	m.alloc.Release(vip)

	if _, err := m.bus.Publish(ctx, eventbus.EventMimicRemoved, map[string]any{"virtual_ip": vip, "decoy_id": running.decoyID}, ""); err != nil {
		m.log.Warn("failed to publish mimic removed", "error", err)
	}
	return nil
}

// LoadFromDB re-aliases every VirtualIP row not yet released. Rows that
// can't be re-aliased are treated as orphans and marked released, per the
// spec's boot-time cleanup invariant — a VirtualIP with no live alias
// should never linger in storage as "live".
func (m *Manager) LoadFromDB(ctx context.Context) (int, error) {
	rows, err := m.store.ListLiveVirtualIPs(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, v := range rows {
		if m.collaborator == nil {
			m.log.Warn("no privileged collaborator configured, marking virtual ip orphaned", "virtual_ip", v.IPAddress)
			_ = m.store.ReleaseVirtualIP(ctx, v.IPAddress)
			continue
		}
		ok, err := m.collaborator.AddIPAlias(v.IPAddress, v.Interface, m.cfg.InterfaceMask)
		if err != nil || !ok {
			m.log.Warn("failed to re-alias virtual ip, marking orphaned", "virtual_ip", v.IPAddress, "error", err)
			_ = m.store.ReleaseVirtualIP(ctx, v.IPAddress)
			continue
		}
		m.alloc.MarkAllocated(v.IPAddress)
		resumed++
	}
	return resumed, nil
}

func (m *Manager) rollbackAlias(vip string) {
	if m.collaborator != nil {
		if _, err := m.collaborator.RemoveIPAlias(vip, m.cfg.Interface); err != nil {
			m.log.Warn("failed to roll back ip alias after failed deploy", "virtual_ip", vip, "error", err)
		}
	}
	m.alloc.Release(vip)
}

// installPortForwards rebuilds the full redirect rule set across every
// running deployment and pushes it to the privileged collaborator in one
// call — SetupPortForwards replaces the whole table rather than appending,
// so the manager keeps the authoritative rule list in memory.
func (m *Manager) installPortForwards(vip string, ports []int) error {
	m.mu.Lock()
	if running, ok := m.running[vip]; ok {
		running.ports = ports
	}
	rules := m.allPortForwardRules()
	m.mu.Unlock()

	for _, port := range ports {
		if port >= 1024 {
			continue
		}
		rules = append(rules, privileged.PortForwardRule{
			FromIP: vip, FromPort: port, ToIP: vip, ToPort: port + privilegedPortOffset,
		})
	}
	if len(rules) == 0 {
		return nil
	}
	_, err := m.collaborator.SetupPortForwards(rules, m.cfg.Interface)
	return err
}

// clearPortForwards recomputes the redirect rule set excluding vip and
// either pushes the reduced table or fully clears it if nothing remains.
func (m *Manager) clearPortForwards(vip string) error {
	m.mu.Lock()
	delete(m.running, vip)
	rules := m.allPortForwardRules()
	m.mu.Unlock()

	if m.collaborator == nil {
		return nil
	}
	if len(rules) == 0 {
		_, err := m.collaborator.ClearPortForwards()
		return err
	}
	_, err := m.collaborator.SetupPortForwards(rules, m.cfg.Interface)
	return err
}

// allPortForwardRules must be called with m.mu held.
func (m *Manager) allPortForwardRules() []privileged.PortForwardRule {
	var rules []privileged.PortForwardRule
	for vip, running := range m.running {
		for _, port := range running.ports {
			if port >= 1024 {
				continue
			}
			rules = append(rules, privileged.PortForwardRule{
				FromIP: vip, FromPort: port, ToIP: vip, ToPort: port + privilegedPortOffset,
			})
		}
	}
	return rules
}

// handleConnection is the mimic decoy's on_connection callback: any
// traffic reaching a virtual IP is inherently suspicious, since nothing
// legitimate should ever address it.
func (m *Manager) handleConnection(ctx context.Context, decoyID int64, vip string, ev decoy.ConnectionEvent) {
	conn := &storage.DecoyConnection{
		DecoyID:     decoyID,
		SourceIP:    ev.SourceIP,
		Port:        ev.DestPort,
		Protocol:    ev.Protocol,
		RequestPath: ev.RequestPath,
	}
	if _, err := m.store.InsertDecoyConnection(ctx, conn); err != nil {
		m.log.Warn("failed to persist mimic connection", "decoy_id", decoyID, "error", err)
		return
	}
	if _, err := m.bus.Publish(ctx, eventbus.EventDecoyTrip, map[string]any{
		"decoy_id": decoyID, "virtual_ip": vip, "source_ip": ev.SourceIP, "port": ev.DestPort,
	}, ""); err != nil {
		m.log.Warn("failed to publish mimic trip", "error", err)
	}
}
