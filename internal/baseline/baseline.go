// Package baseline learns each approved device's normal destination set
// during a bounded wall-clock window after first boot, then flags any
// destination observed outside that set once learning has completed.
package baseline

import (
	"context"
	"time"

	"github.com/rocketweb/squirrelops-sensor/internal/clock"
	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/incident"
	"github.com/rocketweb/squirrelops-sensor/internal/logging"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

// stateKeyLearningStartedAt is the sensor_state key recording when the
// global learning window began, so it survives restarts.
const stateKeyLearningStartedAt = "baseline.learning_started_at"

// Collector learns (device, destination) pairs during the learning window
// and raises behavioral.anomaly findings once it has closed.
type Collector struct {
	store *storage.Store
	bus   *eventbus.Bus
	inc   *incident.Aggregator
	log   *logging.Logger

	duration time.Duration
}

// New builds a Collector. learningDurationHours bounds the single global
// learning window, measured from the first call to EnsureStarted. A
// negative value falls back to the 48-hour default; 0 is a valid setting
// meaning the window closes immediately.
func New(store *storage.Store, bus *eventbus.Bus, inc *incident.Aggregator, learningDurationHours int) *Collector {
	if learningDurationHours < 0 {
		learningDurationHours = 48
	}
	return &Collector{
		store:    store,
		bus:      bus,
		inc:      inc,
		log:      logging.WithComponent("baseline"),
		duration: time.Duration(learningDurationHours) * time.Hour,
	}
}

// EnsureStarted records the learning window's start time on first call;
// subsequent calls are no-ops. Call this once during sensor startup.
func (c *Collector) EnsureStarted(ctx context.Context) error {
	_, err := c.store.GetState(ctx, stateKeyLearningStartedAt)
	if err == nil {
		return nil
	}
	if err != storage.ErrNotFound {
		return err
	}
	return c.store.SetState(ctx, stateKeyLearningStartedAt, clock.Now().UTC().Format(time.RFC3339Nano))
}

// IsLearning reports whether the global learning window is still open.
func (c *Collector) IsLearning(ctx context.Context) (bool, error) {
	raw, err := c.store.GetState(ctx, stateKeyLearningStartedAt)
	if err == storage.ErrNotFound {
		return true, nil // never started: treat as learning, EnsureStarted will fix this
	}
	if err != nil {
		return false, err
	}
	started, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return true, nil
	}
	return clock.Now().Before(started.Add(c.duration)), nil
}

// PublishProgress emits system.learning_progress (with a 0-1 fraction
// elapsed) while the window is open, or system.learning_complete exactly
// once after it closes. Call this on a periodic timer.
func (c *Collector) PublishProgress(ctx context.Context) error {
	raw, err := c.store.GetState(ctx, stateKeyLearningStartedAt)
	if err == storage.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	started, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}

	elapsed := clock.Now().Sub(started)
	if elapsed >= c.duration {
		if _, err := c.bus.Publish(ctx, eventbus.EventSystemLearningComplete, nil, ""); err != nil {
			c.log.Warn("failed to publish learning_complete", "error", err)
		}
		return nil
	}

	fraction := float64(elapsed) / float64(c.duration)
	if _, err := c.bus.Publish(ctx, eventbus.EventSystemLearningProgress, map[string]any{"fraction": fraction}, ""); err != nil {
		c.log.Warn("failed to publish learning_progress", "error", err)
	}
	return nil
}

// Observe records one (device, destination) pair seen during a scan. If
// the sensor is still learning and the device is approved, the pair is
// upserted into the baseline. If learning has completed, an unbaselined
// destination on a device that does have a baseline produces a
// behavioral.anomaly finding at medium severity; a device with no
// baseline at all (never learned) is never flagged.
func (c *Collector) Observe(ctx context.Context, deviceID int64, deviceIP, destIP string, destPort int) error {
	learning, err := c.IsLearning(ctx)
	if err != nil {
		return err
	}

	trust, err := c.store.GetTrust(ctx, deviceID)
	if err != nil {
		return err
	}

	if learning {
		if trust.Status == storage.TrustApproved {
			return c.store.UpsertBaseline(ctx, deviceID, destIP, destPort)
		}
		return nil
	}

	hasBaseline, err := c.store.HasBaseline(ctx, deviceID)
	if err != nil {
		return err
	}
	if !hasBaseline {
		return nil
	}

	hit, err := c.store.BaselineHit(ctx, deviceID, destIP, destPort)
	if err != nil {
		return err
	}
	if hit {
		return nil
	}

	_, _, err = c.inc.Record(ctx, incident.Finding{
		AlertType: "behavioral.anomaly",
		Severity:  storage.SeverityMedium,
		Title:     "device connected to a destination outside its learned baseline",
		Detail:    destIP,
		SourceIP:  deviceIP,
		DeviceID:  &deviceID,
	})
	return err
}
