// Package eventbus is the in-process pub/sub layer over the persistent
// event log (internal/storage). Publish persists before dispatch; fan-out
// is best-effort and non-blocking to the publisher.
package eventbus

import "time"

// EventType identifies the dotted event-type string, per the external
// interfaces contract.
type EventType string

const (
	EventDeviceDiscovered         EventType = "device.discovered"
	EventDeviceUpdated            EventType = "device.updated"
	EventDeviceOnline             EventType = "device.online"
	EventDeviceOffline            EventType = "device.offline"
	EventDeviceVerificationNeeded EventType = "device.verification_needed"

	EventDecoyTrip           EventType = "decoy.trip"
	EventDecoyCredentialTrip EventType = "decoy.credential_trip"
	EventDecoyHealthChanged  EventType = "decoy.health_changed"
	EventDecoyStatusChanged  EventType = "decoy.status_changed"

	EventAlertNew     EventType = "alert.new"
	EventAlertUpdated EventType = "alert.updated"

	EventIncidentNew     EventType = "incident.new"
	EventIncidentUpdated EventType = "incident.updated"

	EventScoutCycleComplete EventType = "scout.cycle_complete"

	EventMimicDeployed EventType = "mimic.deployed"
	EventMimicRemoved  EventType = "mimic.removed"

	EventSystemScanComplete      EventType = "system.scan_complete"
	EventSystemProfileChanged    EventType = "system.profile_changed"
	EventSystemLearningProgress  EventType = "system.learning_progress"
	EventSystemLearningComplete  EventType = "system.learning_complete"
	EventSystemSensorOffline     EventType = "system.sensor_offline"

	// Wildcard subscribes to every event type.
	EventAll EventType = "*"
)

// Event is the in-memory, dispatched form of a persisted storage.Event.
type Event struct {
	Seq       int64
	Type      EventType
	Payload   any
	SourceID  string
	Timestamp time.Time
}
