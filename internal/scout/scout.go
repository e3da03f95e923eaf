// Package scout implements the scout engine and scheduler: a deep
// service-probing pass over every online device's known open ports,
// independent of the scan loop that discovers those ports in the first
// place. Each cycle probes TCP banners, HTTP HEAD responses, TLS
// certificates, and favicons, and upserts the result as a ServiceProfile
// that internal/mimic later reads to build impersonation templates.
package scout

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/logging"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Config controls the scheduler's timing and probe fan-out.
type Config struct {
	InitialDelay        time.Duration // wait after the first scan completes before the first cycle
	Interval            time.Duration // spacing between cycles thereafter
	MaxConcurrentProbes int
	ProbeTimeout        time.Duration
}

// DefaultConfig matches the component design's defaults.
func DefaultConfig() Config {
	return Config{
		InitialDelay:        2 * time.Minute,
		Interval:            60 * time.Minute,
		MaxConcurrentProbes: 10,
		ProbeTimeout:        5 * time.Second,
	}
}

// CycleStats reports on one completed probe cycle.
type CycleStats struct {
	Duration     time.Duration
	ProfileCount int
}

// Engine owns the probe schedule and fan-out.
type Engine struct {
	store *storage.Store
	bus   *eventbus.Bus
	log   *logging.Logger
	cfg   Config

	group singleflight.Group
}

// New builds an Engine.
func New(store *storage.Store, bus *eventbus.Bus, cfg Config) *Engine {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig().InitialDelay
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.MaxConcurrentProbes <= 0 {
		cfg.MaxConcurrentProbes = DefaultConfig().MaxConcurrentProbes
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	return &Engine{
		store: store,
		bus:   bus,
		log:   logging.WithComponent("scout"),
		cfg:   cfg,
	}
}

// Run waits for the first system.scan_complete event, then the configured
// initial delay, runs a cycle immediately, and repeats every Interval
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	events := e.bus.Subscribe(1, eventbus.EventSystemScanComplete)
	defer e.bus.Unsubscribe(events)

	select {
	case <-ctx.Done():
		return nil
	case <-events:
	}

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(e.cfg.InitialDelay):
	}

	if _, err := e.RunNow(ctx); err != nil {
		e.log.Warn("scout cycle failed", "error", err)
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.RunNow(ctx); err != nil {
				e.log.Warn("scout cycle failed", "error", err)
			}
		}
	}
}

// RunNow triggers an immediate cycle. Calls that arrive while a cycle is
// already in progress coalesce onto it rather than starting a second,
// overlapping one — manual triggers and the scheduler's own ticks share
// the same coalescing key.
func (e *Engine) RunNow(ctx context.Context) (CycleStats, error) {
	v, err, _ := e.group.Do("cycle", func() (interface{}, error) {
		return e.runCycle(ctx)
	})
	if err != nil {
		return CycleStats{}, err
	}
	return v.(CycleStats), nil
}

// runCycle probes every (online device, open port) pair with bounded
// concurrency and upserts a ServiceProfile for each.
func (e *Engine) runCycle(ctx context.Context) (CycleStats, error) {
	start := time.Now()

	devices, err := e.store.ListDevices(ctx)
	if err != nil {
		return CycleStats{}, err
	}

	type target struct {
		device *storage.Device
		port   *storage.DeviceOpenPort
	}
	var targets []target
	for _, d := range devices {
		if !d.IsOnline {
			continue
		}
		ports, err := e.store.ListOpenPorts(ctx, d.ID)
		if err != nil {
			e.log.Warn("failed to list open ports", "device_id", d.ID, "error", err)
			continue
		}
		for _, p := range ports {
			targets = append(targets, target{device: d, port: p})
		}
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrentProbes)

	var profileCount int64
	for _, t := range targets {
		t := t
		g.Go(func() error {
			result := probePort(ctx, t.device.IPAddress, t.port.Port, e.cfg.ProbeTimeout)
			profile := &storage.ServiceProfile{
				DeviceID:      t.device.ID,
				Port:          t.port.Port,
				Protocol:      t.port.Protocol,
				HTTPStatus:    result.HTTPStatus,
				Headers:       encodeHeaders(result.Headers),
				BodySnippet:   result.BodySnippet,
				FaviconHash:   result.FaviconHash,
				TLSCommonName: result.TLSCommonName,
				TLSIssuer:     result.TLSIssuer,
				TLSNotAfter:   result.TLSNotAfter,
				Banner:        result.Banner,
			}
			if err := e.store.UpsertServiceProfile(ctx, profile); err != nil {
				e.log.Warn("failed to upsert service profile", "device_id", t.device.ID, "port", t.port.Port, "error", err)
				return nil
			}
			atomic.AddInt64(&profileCount, 1)
			return nil
		})
	}
	// errgroup.Group.Wait never returns a non-nil error here since the
	// probe goroutines themselves never return one; they log and recover.
	_ = g.Wait()

	stats := CycleStats{Duration: time.Since(start), ProfileCount: int(profileCount)}
	e.log.Info("scout cycle complete", "duration", stats.Duration, "profiles", stats.ProfileCount, "targets", len(targets))

	if _, err := e.bus.Publish(ctx, eventbus.EventScoutCycleComplete, map[string]any{
		"duration_ms":   stats.Duration.Milliseconds(),
		"profile_count": stats.ProfileCount,
	}, ""); err != nil {
		e.log.Warn("failed to publish scout cycle complete", "error", err)
	}

	return stats, nil
}
