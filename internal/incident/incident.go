// Package incident aggregates alertable findings from every subsystem into
// incidents: alerts from the same source within a time window merge into
// one incident with escalating severity, and a periodic sweep closes
// incidents that have gone quiet.
package incident

import (
	"context"

	"github.com/rocketweb/squirrelops-sensor/internal/clock"
	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/logging"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

// Config holds the aggregator's tunables.
type Config struct {
	WindowMinutes      int // how close in time alerts from one source must be to merge
	CloseWindowMinutes int // how long an incident may go quiet before the sweep closes it
}

// DefaultConfig matches the component design's defaults.
func DefaultConfig() Config {
	return Config{WindowMinutes: 30, CloseWindowMinutes: 120}
}

// Aggregator links new alerts into incidents and ages out stale ones.
type Aggregator struct {
	store *storage.Store
	bus   *eventbus.Bus
	log   *logging.Logger
	cfg   Config
}

// New builds an Aggregator.
func New(store *storage.Store, bus *eventbus.Bus, cfg Config) *Aggregator {
	return &Aggregator{
		store: store,
		bus:   bus,
		log:   logging.WithComponent("incident"),
		cfg:   cfg,
	}
}

// Finding is one alertable event raised by any subsystem.
type Finding struct {
	AlertType string
	Severity  storage.Severity
	Title     string
	Detail    string
	SourceIP  string
	SourceMAC string
	DeviceID  *int64
	DecoyID   *int64
	EventSeq  *int64
}

// Record inserts an alert for finding and links it to the active incident
// for its source_ip if one exists within the configured window, otherwise
// opens a new incident. It returns the alert and incident ids.
func (a *Aggregator) Record(ctx context.Context, f Finding) (alertID, incidentID int64, err error) {
	var incID *int64

	if f.SourceIP != "" {
		existing, err := a.store.FindActiveIncident(ctx, f.SourceIP, a.cfg.WindowMinutes)
		switch err {
		case nil:
			now := nowTimeString()
			if bumpErr := a.store.BumpIncident(ctx, existing.ID, now, f.Severity); bumpErr != nil {
				return 0, 0, bumpErr
			}
			id := existing.ID
			incID = &id
		case storage.ErrNotFound:
			inc := &storage.Incident{
				SourceIP:     f.SourceIP,
				SourceMAC:    f.SourceMAC,
				Severity:     f.Severity,
				AlertCount:   0,
				FirstAlertAt: clock.Now().UTC(),
				LastAlertAt:  clock.Now().UTC(),
			}
			newID, createErr := a.store.CreateIncident(ctx, inc)
			if createErr != nil {
				return 0, 0, createErr
			}
			incID = &newID
			a.publish(ctx, eventbus.EventIncidentNew, incidentPayload(inc))
		default:
			return 0, 0, err
		}
	}

	alert := &storage.Alert{
		IncidentID: incID,
		AlertType:  f.AlertType,
		Severity:   f.Severity,
		Title:      f.Title,
		Detail:     f.Detail,
		SourceIP:   f.SourceIP,
		SourceMAC:  f.SourceMAC,
		DeviceID:   f.DeviceID,
		DecoyID:    f.DecoyID,
		EventSeq:   f.EventSeq,
	}
	id, err := a.store.InsertAlert(ctx, alert)
	if err != nil {
		return 0, 0, err
	}

	a.publish(ctx, eventbus.EventAlertNew, alertPayload(alert))
	if incID != nil {
		a.publish(ctx, eventbus.EventIncidentUpdated, map[string]any{"incident_id": *incID})
	}

	if incID == nil {
		return id, 0, nil
	}
	return id, *incID, nil
}

// Sweep closes every active incident that has gone quiet past
// CloseWindowMinutes. Call it on a periodic timer independent of scan
// cycles.
func (a *Aggregator) Sweep(ctx context.Context) (int64, error) {
	n, err := a.store.CloseStaleIncidents(ctx, a.cfg.CloseWindowMinutes)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.log.Info("closed stale incidents", "count", n)
	}
	return n, nil
}

func (a *Aggregator) publish(ctx context.Context, eventType eventbus.EventType, payload any) {
	if _, err := a.bus.Publish(ctx, eventType, payload, ""); err != nil {
		a.log.Warn("failed to publish incident event", "event_type", string(eventType), "error", err)
	}
}

func incidentPayload(inc *storage.Incident) map[string]any {
	return map[string]any{
		"incident_id": inc.ID,
		"source_ip":   inc.SourceIP,
		"source_mac":  inc.SourceMAC,
		"severity":    string(inc.Severity),
	}
}

func alertPayload(a *storage.Alert) map[string]any {
	return map[string]any{
		"alert_id":   a.ID,
		"alert_type": a.AlertType,
		"severity":   string(a.Severity),
		"title":      a.Title,
		"source_ip":  a.SourceIP,
		"source_mac": a.SourceMAC,
	}
}

func nowTimeString() string {
	return clock.Now().UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
}
