// Package retention wraps internal/storage's purge stages in a daily
// scheduler, per spec §4.12.
package retention

import (
	"context"
	"time"

	"github.com/rocketweb/squirrelops-sensor/internal/logging"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

// Config controls the retention window and tick cadence.
type Config struct {
	RetentionDays int
	TickInterval  time.Duration // how often Run checks whether a sweep is due
}

// DefaultConfig matches the component design's defaults: a 90-day window,
// checked hourly so a sweep that's due fires promptly without running the
// purge query itself on every tick.
func DefaultConfig() Config {
	return Config{RetentionDays: 90, TickInterval: time.Hour}
}

// Scheduler runs the daily retention sweep and reports counts for telemetry.
type Scheduler struct {
	store *storage.Store
	cfg   Config
	log   *logging.Logger

	lastRun time.Time
}

// New builds a Scheduler.
func New(store *storage.Store, cfg Config) *Scheduler {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultConfig().RetentionDays
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	return &Scheduler{store: store, cfg: cfg, log: logging.WithComponent("retention")}
}

// RunOnce executes one purge sweep unconditionally and records the time it
// ran, regardless of how long it has been since the last sweep. Exposed
// separately from Run so tests and a manual operator trigger don't need to
// wait out a full day.
func (s *Scheduler) RunOnce(ctx context.Context) storage.PurgeResult {
	result := s.store.Purge(ctx, s.cfg.RetentionDays)
	s.lastRun = time.Now()
	s.log.Info("retention sweep complete",
		"alerts_removed", result.AlertsRemoved,
		"incidents_removed", result.IncidentsRemoved,
		"events_removed", result.EventsRemoved,
		"decoy_connections_removed", result.DecoyConnectionsRemoved,
		"canary_observations_removed", result.CanaryObservationsRemoved,
	)
	return result
}

// Run ticks every cfg.TickInterval and fires a sweep once roughly 24h have
// passed since the last one, until ctx is cancelled. The first sweep runs
// immediately on start so a freshly booted sensor doesn't wait a full day
// before its first purge.
func (s *Scheduler) Run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(s.lastRun) >= 24*time.Hour {
				s.RunOnce(ctx)
			}
		}
	}
}
