// Package telemetry exposes operational counters for the sensor process:
// events published on the bus, decoy trips, scout cycles, and mimic
// lifecycle changes. It mirrors the teacher's internal/metrics registry
// shape but registers into a private *prometheus.Registry per instance
// rather than the global DefaultRegisterer, since a process may run more
// than one sensor (tests do) and the default registry panics on a second
// registration of the same metric name.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
)

// Registry holds every counter/gauge the sensor exposes for scraping.
type Registry struct {
	reg *prometheus.Registry

	EventsTotal     *prometheus.CounterVec
	DecoyTrips      prometheus.Counter
	ScoutCycles     prometheus.Counter
	MimicsDeployed  prometheus.Counter
	MimicsRemoved   prometheus.Counter
	IncidentsOpened *prometheus.CounterVec
	BusDropped      prometheus.Gauge
}

// NewRegistry builds and registers the sensor's metric set.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{reg: reg}

	r.EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensor_events_published_total",
		Help: "Total events published on the in-process event bus, by type.",
	}, []string{"type"})

	r.DecoyTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensor_decoy_trips_total",
		Help: "Total connections or credential uses observed against decoys and mimics.",
	})

	r.ScoutCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensor_scout_cycles_total",
		Help: "Total scout probe cycles completed.",
	})

	r.MimicsDeployed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensor_mimics_deployed_total",
		Help: "Total mimic decoys deployed onto virtual IPs.",
	})

	r.MimicsRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensor_mimics_removed_total",
		Help: "Total mimic decoys removed and returned to the virtual IP pool.",
	})

	r.IncidentsOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensor_incidents_opened_total",
		Help: "Total incidents opened, by severity.",
	}, []string{"severity"})

	r.BusDropped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sensor_bus_events_dropped",
		Help: "Events dropped by the bus because a subscriber's channel was full.",
	})

	reg.MustRegister(r.EventsTotal, r.DecoyTrips, r.ScoutCycles, r.MimicsDeployed,
		r.MimicsRemoved, r.IncidentsOpened, r.BusDropped)

	return r
}

// Handler returns the HTTP handler an (out-of-scope) API layer would mount
// at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Observe subscribes to every bus event and updates the relevant counters
// until ctx is cancelled. It is meant to run in its own goroutine, started
// alongside the other composition-root loops.
func (r *Registry) Observe(ctx context.Context, bus *eventbus.Bus) {
	ch := bus.Subscribe(256, eventbus.EventAll)
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			r.EventsTotal.WithLabelValues(string(e.Type)).Inc()
			switch e.Type {
			case eventbus.EventDecoyTrip, eventbus.EventDecoyCredentialTrip:
				r.DecoyTrips.Inc()
			case eventbus.EventScoutCycleComplete:
				r.ScoutCycles.Inc()
			case eventbus.EventMimicDeployed:
				r.MimicsDeployed.Inc()
			case eventbus.EventMimicRemoved:
				r.MimicsRemoved.Inc()
			case eventbus.EventIncidentNew:
				r.observeIncidentSeverity(e.Payload)
			}
			_, dropped := bus.Stats()
			r.BusDropped.Set(float64(dropped))
		}
	}
}

// observeIncidentSeverity pulls the severity label out of an incident.new
// payload, which Publish encodes as a plain map since event payloads travel
// as json.RawMessage-decoded `any`.
func (r *Registry) observeIncidentSeverity(payload any) {
	m, ok := payload.(map[string]any)
	if !ok {
		r.IncidentsOpened.WithLabelValues("unknown").Inc()
		return
	}
	severity, _ := m["severity"].(string)
	if severity == "" {
		severity = "unknown"
	}
	r.IncidentsOpened.WithLabelValues(severity).Inc()
}
