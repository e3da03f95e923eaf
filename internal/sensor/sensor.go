// Package sensor is the composition root: it wires every subsystem package
// together into one supervised process and drives the network-scan cycle
// that feeds the rest of the pipeline.
package sensor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rocketweb/squirrelops-sensor/internal/baseline"
	"github.com/rocketweb/squirrelops-sensor/internal/canary"
	"github.com/rocketweb/squirrelops-sensor/internal/decoy"
	"github.com/rocketweb/squirrelops-sensor/internal/devicemgr"
	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/incident"
	"github.com/rocketweb/squirrelops-sensor/internal/insight"
	"github.com/rocketweb/squirrelops-sensor/internal/logging"
	"github.com/rocketweb/squirrelops-sensor/internal/mimic"
	"github.com/rocketweb/squirrelops-sensor/internal/privileged"
	"github.com/rocketweb/squirrelops-sensor/internal/registry"
	"github.com/rocketweb/squirrelops-sensor/internal/retention"
	"github.com/rocketweb/squirrelops-sensor/internal/scout"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
	"github.com/rocketweb/squirrelops-sensor/internal/telemetry"
)

// Config aggregates every subsystem's tunables plus the top-level settings
// only the composition root needs (storage location, the LAN the sensor
// watches, and how often the discovery cycle runs).
type Config struct {
	StoragePath string

	Interface  string
	SubnetCIDR string
	GatewayIP  string
	SensorIP   string

	ScanInterval           time.Duration
	LearningDurationHours  int
	ShutdownGrace          time.Duration
	RegistryURL            string
	RegistryToken          string
	RegistrySyncInterval   time.Duration

	Privileged privileged.Config
	Decoy      decoy.Config
	Canary     canary.Config
	Scout      scout.Config
	Mimic      mimic.Config
	Retention  retention.Config
	Incident   incident.Config
}

// DefaultConfig matches the component design's defaults for every field the
// composition root itself owns; subsystem defaults come from each
// package's own DefaultConfig.
func DefaultConfig() Config {
	return Config{
		StoragePath:           "/var/lib/squirrelops-sensor/sensor.db",
		Interface:             "lan0",
		ScanInterval:          60 * time.Second,
		LearningDurationHours: 72,
		ShutdownGrace:         10 * time.Second,
		RegistrySyncInterval:  15 * time.Minute,
		Privileged:            privileged.DefaultConfig(),
		Decoy:                 decoy.DefaultConfig(),
		Canary:                canary.DefaultConfig(),
		Scout:                 scout.DefaultConfig(),
		Mimic:                 mimic.DefaultConfig(),
		Retention:             retention.DefaultConfig(),
		Incident:              incident.DefaultConfig(),
	}
}

// Sensor owns every subsystem and the goroutines that drive them.
type Sensor struct {
	cfg          Config
	log          *logging.Logger
	store        *storage.Store
	bus          *eventbus.Bus
	collaborator privileged.Collaborator

	devices   *devicemgr.Manager
	incidents *incident.Aggregator
	baseline  *baseline.Collector
	decoys    *decoy.Orchestrator
	canaries  *canary.Monitor
	scout     *scout.Engine
	mimics    *mimic.Manager
	insight   *insight.Analyzer
	retention *retention.Scheduler
	telemetry *telemetry.Registry
	registry  *registry.Client // nil unless Config.RegistryURL is set

	mu       sync.Mutex
	mimicked map[int64]bool // device IDs already given a mimic deployment this run

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens storage, dials the privileged collaborator (degrading to nil on
// failure — every consumer already tolerates a nil Collaborator), and wires
// every subsystem.
func New(cfg Config) (*Sensor, error) {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultConfig().ScanInterval
	}
	if cfg.LearningDurationHours <= 0 {
		cfg.LearningDurationHours = DefaultConfig().LearningDurationHours
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultConfig().ShutdownGrace
	}
	if cfg.Interface == "" {
		cfg.Interface = DefaultConfig().Interface
	}

	store, err := storage.Open(storage.Options{Path: cfg.StoragePath})
	if err != nil {
		return nil, fmt.Errorf("sensor: open storage: %w", err)
	}
	bus := eventbus.New(store)
	log := logging.WithComponent("sensor")

	var collaborator privileged.Collaborator
	if client, err := privileged.NewClient(cfg.Privileged); err != nil {
		log.Warn("privileged collaborator unavailable, running degraded", "error", err)
	} else {
		collaborator = client
	}

	cfg.Mimic.Interface = cfg.Interface
	cfg.Mimic.Allocator.CIDR = cfg.SubnetCIDR
	cfg.Mimic.Allocator.GatewayIP = cfg.GatewayIP
	cfg.Mimic.Allocator.SensorIP = cfg.SensorIP
	cfg.Canary.Interface = cfg.Interface

	devices := devicemgr.New(store, bus)
	incidents := incident.New(store, bus, cfg.Incident)
	baselineCollector := baseline.New(store, bus, incidents, cfg.LearningDurationHours)
	decoys := decoy.New(store, bus, incidents, cfg.Decoy)
	canaries := canary.New(store, bus, incidents, collaborator, cfg.Canary)
	scoutEngine := scout.New(store, bus, cfg.Scout)
	insightAnalyzer := insight.New(store, bus, incidents)
	retentionScheduler := retention.New(store, cfg.Retention)
	telemetryRegistry := telemetry.NewRegistry()

	var registryClient *registry.Client
	if cfg.RegistryURL != "" {
		registryClient = registry.New(cfg.RegistryURL, cfg.RegistryToken)
	}

	mimics, err := mimic.New(store, bus, collaborator, cfg.Mimic)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("sensor: build mimic manager: %w", err)
	}

	return &Sensor{
		cfg:          cfg,
		log:          log,
		store:        store,
		bus:          bus,
		collaborator: collaborator,
		devices:      devices,
		incidents:    incidents,
		baseline:     baselineCollector,
		decoys:       decoys,
		canaries:     canaries,
		scout:        scoutEngine,
		mimics:       mimics,
		insight:      insightAnalyzer,
		retention:    retentionScheduler,
		telemetry:    telemetryRegistry,
		registry:     registryClient,
		mimicked:     make(map[int64]bool),
	}, nil
}

// Start resumes persisted state, then launches every long-running goroutine
// behind ctx. It returns once everything is running; call Stop to unwind.
func (s *Sensor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if _, err := s.decoys.ResumeActive(ctx); err != nil {
		s.log.Warn("failed to resume active decoys", "error", err)
	}
	if _, err := s.mimics.LoadFromDB(ctx); err != nil {
		s.log.Warn("failed to load mimic virtual ips", "error", err)
	}
	if err := s.baseline.EnsureStarted(ctx); err != nil {
		s.log.Warn("failed to start learning window", "error", err)
	}

	s.spawn(func() { s.runScanLoop(ctx) })
	s.spawn(func() {
		if err := s.canaries.Run(ctx); err != nil {
			s.log.Warn("canary monitor stopped", "error", err)
		}
	})
	s.spawn(func() {
		if err := s.scout.Run(ctx); err != nil {
			s.log.Warn("scout engine stopped", "error", err)
		}
	})
	s.spawn(func() { s.retention.Run(ctx) })
	s.spawn(func() { s.runHealthLoop(ctx) })
	s.spawn(func() { s.runPostScanPipeline(ctx) })
	s.spawn(func() { s.telemetry.Observe(ctx, s.bus) })
	if s.registry != nil {
		s.spawn(func() { s.runRegistrySyncLoop(ctx) })
	}

	return nil
}

// Metrics returns the Prometheus handler for the (external, out-of-scope)
// API layer to mount at /metrics.
func (s *Sensor) Metrics() http.Handler {
	return s.telemetry.Handler()
}

// Stop cancels every goroutine and waits up to ShutdownGrace for them to
// exit before giving up and closing storage anyway.
func (s *Sensor) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		s.log.Warn("shutdown grace period elapsed with goroutines still running")
	}
	if s.collaborator != nil {
		_ = s.collaborator.Close()
	}
	return s.store.Close()
}

func (s *Sensor) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// runHealthLoop periodically checks every deployed decoy's liveness and
// restarts it within the configured restart budget.
func (s *Sensor) runHealthLoop(ctx context.Context) {
	interval := s.cfg.Decoy.HealthCheckInterval
	if interval <= 0 {
		interval = decoy.DefaultConfig().HealthCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.decoys.CheckHealth(ctx); err != nil {
				s.log.Warn("decoy health check failed", "error", err)
			}
		}
	}
}

// runRegistrySyncLoop periodically pulls the external registry's device and
// area lists and enriches matching devices. Only started when a registry
// URL is configured; a registry outage just means this tick does nothing.
func (s *Sensor) runRegistrySyncLoop(ctx context.Context) {
	interval := s.cfg.RegistrySyncInterval
	if interval <= 0 {
		interval = DefaultConfig().RegistrySyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.syncRegistry(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncRegistry(ctx)
		}
	}
}

func (s *Sensor) syncRegistry(ctx context.Context) {
	if !s.registry.TestConnection(ctx) {
		s.log.Debug("registry unreachable, skipping enrichment")
		return
	}
	devices := s.registry.ListDevices(ctx)
	areas := s.registry.ListAreas(ctx)
	if len(devices) == 0 {
		return
	}
	if err := s.devices.EnrichFromRegistry(ctx, devices, areas); err != nil {
		s.log.Warn("registry enrichment failed", "error", err)
	}
}

// runPostScanPipeline reacts to system.scan_complete and scout.cycle_complete:
// the former seeds the initial decoy set and re-scores every device's
// insight state, the latter feeds newly profiled devices into the mimic
// pipeline.
func (s *Sensor) runPostScanPipeline(ctx context.Context) {
	events := s.bus.Subscribe(16, eventbus.EventSystemScanComplete, eventbus.EventScoutCycleComplete)
	defer s.bus.Unsubscribe(events)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case eventbus.EventSystemScanComplete:
				s.onScanComplete(ctx)
			case eventbus.EventScoutCycleComplete:
				s.onScoutCycleComplete(ctx)
			}
		}
	}
}

// onScanComplete re-scores every device's insight state once a scan cycle
// has finished updating device rows and open-port records. Auto-deploying
// decoys happens inline in runScanCycle, where the observed (ip, port)
// pairs are already in hand.
func (s *Sensor) onScanComplete(ctx context.Context) {
	if err := s.insight.AnalyzeAll(ctx); err != nil {
		s.log.Warn("insight analysis failed", "error", err)
	}
}

// onScoutCycleComplete generates and deploys a mimic for every online
// device that now has service profiles and hasn't been given one yet,
// stopping as soon as Deploy reports the configured bounds are full.
func (s *Sensor) onScoutCycleComplete(ctx context.Context) {
	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		s.log.Warn("failed to list devices for mimic generation", "error", err)
		return
	}
	for _, d := range devices {
		if !d.IsOnline {
			continue
		}
		s.mu.Lock()
		already := s.mimicked[d.ID]
		s.mu.Unlock()
		if already {
			continue
		}

		profiles, err := s.store.ListServiceProfiles(ctx, d.ID)
		if err != nil || len(profiles) == 0 {
			continue
		}

		tmpl, err := s.mimics.GenerateTemplate(ctx, d)
		if err != nil {
			s.log.Warn("failed to generate mimic template", "device_id", d.ID, "error", err)
			continue
		}
		if _, err := s.mimics.Deploy(ctx, tmpl); err != nil {
			s.log.Debug("mimic deploy skipped", "device_id", d.ID, "error", err)
			return // bounds reached or collaborator unavailable; stop trying this cycle
		}
		s.mu.Lock()
		s.mimicked[d.ID] = true
		s.mu.Unlock()
	}
}

// runScanLoop drives the discovery cycle: ARP scan for live hosts, a
// service sweep of their open ports, each host fed through devicemgr, and
// a system.scan_complete event published once every host has been
// processed — the signal scout.Engine waits on before its first cycle.
func (s *Sensor) runScanLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.runScanCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScanCycle(ctx)
		}
	}
}

func (s *Sensor) runScanCycle(ctx context.Context) {
	if s.collaborator == nil {
		s.log.Debug("skipping scan cycle, no privileged collaborator")
		return
	}

	entries, err := s.collaborator.ARPScan(s.cfg.SubnetCIDR)
	if err != nil {
		s.log.Warn("arp scan failed", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	targets := make([]string, len(entries))
	for i, e := range entries {
		targets[i] = e.IP
	}
	services, err := s.collaborator.ServiceScan(targets, commonPorts)
	if err != nil {
		s.log.Warn("service scan failed", "error", err)
	}

	openPorts := make(map[string][]int)
	for _, svc := range services {
		openPorts[svc.IP] = append(openPorts[svc.IP], svc.Port)
	}

	var observed []decoy.ObservedService
	for _, e := range entries {
		ports := openPorts[e.IP]
		sr := devicemgr.ScanResult{
			IPAddress: e.IP,
			MAC:       e.MAC,
			OpenPorts: ports,
		}
		d, err := s.devices.ProcessScanResult(ctx, sr)
		if err != nil {
			s.log.Warn("failed to process scan result", "ip", e.IP, "error", err)
			continue
		}
		for _, port := range ports {
			if err := s.store.UpsertOpenPort(ctx, &storage.DeviceOpenPort{DeviceID: d.ID, Port: port, Protocol: "tcp"}); err != nil {
				s.log.Warn("failed to record open port", "device_id", d.ID, "port", port, "error", err)
			}
			observed = append(observed, decoy.ObservedService{IP: e.IP, Port: port, Protocol: "tcp"})
		}
	}

	if _, err := s.decoys.AutoDeploy(ctx, observed); err != nil {
		s.log.Warn("auto-deploy failed", "error", err)
	}

	if _, err := s.bus.Publish(ctx, eventbus.EventSystemScanComplete, map[string]any{"host_count": len(entries)}, ""); err != nil {
		s.log.Warn("failed to publish scan complete", "error", err)
	}
}

// commonPorts mirrors the teacher's scanner default port list, narrowed to
// the services this sensor's classifier and scout actually reason about.
var commonPorts = []int{21, 22, 23, 53, 80, 443, 554, 631, 5353, 8080, 8443, 8096, 9000, 32400}
