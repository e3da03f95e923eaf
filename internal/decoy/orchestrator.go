package decoy

import (
	"context"
	"fmt"

	"github.com/rocketweb/squirrelops-sensor/internal/eventbus"
	"github.com/rocketweb/squirrelops-sensor/internal/incident"
	"github.com/rocketweb/squirrelops-sensor/internal/logging"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

// ObservedService is one (ip, port) pair seen open during a scan, fed to
// AutoDeploy to pick which decoy personalities to stand up.
type ObservedService struct {
	IP       string
	Port     int
	Protocol string
}

// Orchestrator owns every decoy's lifecycle: deployment, restart, health
// supervision, and turning inbound connections into alerts.
type Orchestrator struct {
	store *storage.Store
	bus   *eventbus.Bus
	inc   *incident.Aggregator
	log   *logging.Logger
	cfg   Config
	reg   *registry
}

// New builds an Orchestrator. cfg tunes deployment caps and health
// supervision; use DefaultConfig() absent stronger requirements.
func New(store *storage.Store, bus *eventbus.Bus, inc *incident.Aggregator, cfg Config) *Orchestrator {
	return &Orchestrator{
		store: store,
		bus:   bus,
		inc:   inc,
		log:   logging.WithComponent("decoy"),
		cfg:   cfg,
		reg:   newRegistry(),
	}
}

// AutoDeploy is the boot-time idempotency-guarded deployment path: if any
// decoy row already exists (active or stopped, from this run or a prior
// one) it is a no-op. Otherwise it maps observed ports to archetypes and
// deploys one decoy per distinct archetype needed, up to MaxDecoys.
func (o *Orchestrator) AutoDeploy(ctx context.Context, observed []ObservedService) (int, error) {
	existing, err := o.store.CountDecoys(ctx)
	if err != nil {
		return 0, err
	}
	if existing > 0 {
		return 0, nil
	}

	needed := map[string]bool{}
	order := []string{}
	for _, svc := range observed {
		t := archetypeForPort(svc.Port)
		if !needed[t] {
			needed[t] = true
			order = append(order, t)
		}
	}
	if len(order) == 0 {
		order = []string{"file_share"}
	}

	deployed := 0
	for _, decoyType := range order {
		if deployed >= o.cfg.MaxDecoys {
			break
		}
		if _, err := o.deploy(ctx, decoyType); err != nil {
			o.log.Warn("failed to auto-deploy decoy", "decoy_type", decoyType, "error", err)
			continue
		}
		deployed++
	}
	return deployed, nil
}

func (o *Orchestrator) deploy(ctx context.Context, decoyType string) (int64, error) {
	a := freshArchetype(decoyType)

	d := &storage.Decoy{
		Name:        a.displayName,
		DecoyType:   a.decoyType,
		BindAddress: "0.0.0.0",
		Port:        0,
		Status:      storage.DecoyActive,
	}
	id, err := o.store.UpsertDecoy(ctx, d)
	if err != nil {
		return 0, err
	}
	d.ID = id

	em := newEmulator(d.BindAddress, d.Port, a.routes, credentialValues(a), func(ev ConnectionEvent) {
		o.handleConnection(context.Background(), id, ev)
	})
	port, err := em.start()
	if err != nil {
		return 0, err
	}
	d.Port = port
	if _, err := o.store.UpsertDecoy(ctx, d); err != nil {
		return 0, err
	}

	for i := range a.credentials {
		cred := &storage.PlantedCredential{
			CredentialType:  a.credentials[i].credentialType,
			CredentialValue: a.credentials[i].value,
			CanaryHostname:  a.credentials[i].canaryHostname,
			PlantedLocation: a.credentials[i].location,
			DecoyID:         &id,
		}
		if _, err := o.store.InsertCredential(ctx, cred); err != nil {
			return id, err
		}
	}

	o.reg.put(&runningDecoy{id: id, decoyType: a.decoyType, em: em, credentials: a.credentials})

	o.publish(ctx, eventbus.EventDecoyStatusChanged, map[string]any{
		"id":         id,
		"decoy_type": a.decoyType,
		"status":     string(storage.DecoyActive),
		"port":       port,
	})
	return id, nil
}

// ResumeActive is called once at boot: it loads every decoy row still
// marked active, reinstantiates its archetype from the credentials already
// planted for it, and starts the emulator again on the same port.
func (o *Orchestrator) ResumeActive(ctx context.Context) (int, error) {
	rows, err := o.store.ListDecoysByStatus(ctx, storage.DecoyActive)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, d := range rows {
		creds, err := o.store.ListCredentialsForDecoy(ctx, d.ID)
		if err != nil {
			o.log.Warn("failed to load credentials for resumed decoy", "decoy_id", d.ID, "error", err)
			continue
		}
		a := archetypeFromStored(d.DecoyType, creds)

		em := newEmulator(d.BindAddress, d.Port, a.routes, credentialValues(a), func(ev ConnectionEvent) {
			o.handleConnection(context.Background(), d.ID, ev)
		})
		port, err := em.start()
		if err != nil {
			o.log.Warn("failed to resume decoy", "decoy_id", d.ID, "error", err)
			continue
		}
		d.Port = port
		if _, err := o.store.UpsertDecoy(ctx, d); err != nil {
			return resumed, err
		}

		genCreds := make([]generatedCredential, len(creds))
		for i, c := range creds {
			genCreds[i] = generatedCredential{credentialType: c.CredentialType, value: c.CredentialValue, canaryHostname: c.CanaryHostname, location: c.PlantedLocation}
		}
		o.reg.put(&runningDecoy{id: d.ID, decoyType: d.DecoyType, em: em, credentials: genCreds})
		resumed++
	}
	return resumed, nil
}

// RestartDecoy stops, resets the failure counter, and starts a decoy again,
// marking it active.
func (o *Orchestrator) RestartDecoy(ctx context.Context, decoyID int64) error {
	if running, ok := o.reg.get(decoyID); ok {
		_ = running.em.stop(ctx)
		o.reg.remove(decoyID)
	}

	d, err := o.getDecoy(ctx, decoyID)
	if err != nil {
		return err
	}
	creds, err := o.store.ListCredentialsForDecoy(ctx, decoyID)
	if err != nil {
		return err
	}
	a := archetypeFromStored(d.DecoyType, creds)

	em := newEmulator(d.BindAddress, d.Port, a.routes, credentialValues(a), func(ev ConnectionEvent) {
		o.handleConnection(context.Background(), decoyID, ev)
	})
	port, err := em.start()
	if err != nil {
		return err
	}
	d.Port = port

	if err := o.store.ResetDecoy(ctx, decoyID, storage.DecoyActive); err != nil {
		return err
	}
	d.Status = storage.DecoyActive
	d.FailureCount = 0
	if _, err := o.store.UpsertDecoy(ctx, d); err != nil {
		return err
	}

	genCreds := make([]generatedCredential, len(creds))
	for i, c := range creds {
		genCreds[i] = generatedCredential{credentialType: c.CredentialType, value: c.CredentialValue, canaryHostname: c.CanaryHostname, location: c.PlantedLocation}
	}
	o.reg.put(&runningDecoy{id: decoyID, decoyType: d.DecoyType, em: em, credentials: genCreds})

	o.publish(ctx, eventbus.EventDecoyStatusChanged, map[string]any{
		"id":         decoyID,
		"decoy_type": d.DecoyType,
		"status":     string(storage.DecoyActive),
		"port":       port,
	})
	return nil
}

// CheckHealth polls every registered decoy once, degrading or stopping it
// per the restart budget. Call this on a periodic timer.
func (o *Orchestrator) CheckHealth(ctx context.Context) error {
	for _, running := range o.reg.all() {
		if running.em.isAlive() {
			continue
		}

		count, err := o.store.RecordDecoyFailure(ctx, running.id, storage.DecoyDegraded)
		if err != nil {
			o.log.Warn("failed to record decoy failure", "decoy_id", running.id, "error", err)
			continue
		}
		o.publish(ctx, eventbus.EventDecoyHealthChanged, map[string]any{"id": running.id, "status": string(storage.DecoyDegraded), "failure_count": count})

		if count <= o.cfg.RestartMaxAttempts {
			continue
		}

		if err := o.store.ResetDecoy(ctx, running.id, storage.DecoyStopped); err != nil {
			o.log.Warn("failed to stop decoy after exhausting restart budget", "decoy_id", running.id, "error", err)
			continue
		}
		o.reg.remove(running.id)
		o.publish(ctx, eventbus.EventSystemSensorOffline, map[string]any{"decoy_id": running.id, "reason": "restart budget exhausted"})
	}
	return nil
}

// handleConnection is the on_connection callback shared by every emulator:
// it persists the connection, bumps counters, and raises the matching
// alertable event.
func (o *Orchestrator) handleConnection(ctx context.Context, decoyID int64, ev ConnectionEvent) {
	conn := &storage.DecoyConnection{
		DecoyID:        decoyID,
		SourceIP:       ev.SourceIP,
		Port:           ev.DestPort,
		Protocol:       ev.Protocol,
		RequestPath:    ev.RequestPath,
		CredentialUsed: ev.CredentialUsed,
	}
	if _, err := o.store.InsertDecoyConnection(ctx, conn); err != nil {
		o.log.Warn("failed to persist decoy connection", "decoy_id", decoyID, "error", err)
		return
	}

	o.publish(ctx, eventbus.EventDecoyTrip, map[string]any{
		"decoy_id":  decoyID,
		"source_ip": ev.SourceIP,
		"port":      ev.DestPort,
		"path":      ev.RequestPath,
	})

	if _, _, err := o.inc.Record(ctx, incident.Finding{
		AlertType: "decoy.trip",
		Severity:  storage.SeverityMedium,
		Title:     "connection to decoy service",
		Detail:    fmt.Sprintf("%s %s", ev.Protocol, ev.RequestPath),
		SourceIP:  ev.SourceIP,
		DecoyID:   &decoyID,
	}); err != nil {
		o.log.Warn("failed to record decoy.trip incident", "decoy_id", decoyID, "error", err)
	}

	if ev.CredentialUsed == "" {
		return
	}

	if err := o.store.BumpCredentialTripCount(ctx, decoyID); err != nil {
		o.log.Warn("failed to bump credential_trip_count", "decoy_id", decoyID, "error", err)
	}
	if err := o.markCredentialTripped(ctx, decoyID, ev.CredentialUsed); err != nil {
		o.log.Warn("failed to mark credential tripped", "decoy_id", decoyID, "error", err)
	}

	o.publish(ctx, eventbus.EventDecoyCredentialTrip, map[string]any{
		"decoy_id":  decoyID,
		"source_ip": ev.SourceIP,
	})

	if _, _, err := o.inc.Record(ctx, incident.Finding{
		AlertType: "decoy.credential_trip",
		Severity:  storage.SeverityHigh,
		Title:     "planted credential used against a decoy",
		Detail:    ev.RequestPath,
		SourceIP:  ev.SourceIP,
		DecoyID:   &decoyID,
	}); err != nil {
		o.log.Warn("failed to record decoy.credential_trip incident", "decoy_id", decoyID, "error", err)
	}
}

func (o *Orchestrator) markCredentialTripped(ctx context.Context, decoyID int64, value string) error {
	creds, err := o.store.ListCredentialsForDecoy(ctx, decoyID)
	if err != nil {
		return err
	}
	for _, c := range creds {
		if c.CredentialValue == value {
			return o.store.MarkCredentialTripped(ctx, c.ID)
		}
	}
	return nil
}

func (o *Orchestrator) getDecoy(ctx context.Context, decoyID int64) (*storage.Decoy, error) {
	all, err := o.store.ListDecoys(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range all {
		if d.ID == decoyID {
			return d, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (o *Orchestrator) publish(ctx context.Context, eventType eventbus.EventType, payload any) {
	if _, err := o.bus.Publish(ctx, eventType, payload, ""); err != nil {
		o.log.Warn("failed to publish decoy event", "event_type", string(eventType), "error", err)
	}
}
