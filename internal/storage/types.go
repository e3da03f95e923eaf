package storage

import "time"

// Event is one row of the append-only event log. Seq is assigned by the
// store's auto-increment column and is never reused, even across purges.
type Event struct {
	Seq       int64
	EventType string
	Payload   string // JSON-encoded structured payload
	SourceID  string
	CreatedAt time.Time
}

// TrustStatus governs whether automated verification alerts fire for a device.
type TrustStatus string

const (
	TrustApproved TrustStatus = "approved"
	TrustRejected TrustStatus = "rejected"
	TrustUnknown  TrustStatus = "unknown"
)

// Device is a LAN endpoint discovered by a scan cycle.
type Device struct {
	ID          int64
	IPAddress   string
	MACAddress  string
	Hostname    string
	Vendor      string
	DeviceType  string
	ModelName   string
	Area        string
	CustomName  string
	Notes       string
	IsOnline    bool
	FirstSeen   time.Time
	LastSeen    time.Time
}

// DeviceFingerprint is the composite-identity record derived from a device's
// observed signals.
type DeviceFingerprint struct {
	ID                    int64
	DeviceID              int64
	MAC                   string
	MDNSHostname          string
	DHCPHash              string
	ConnectionPatternHash string
	OpenPortsHash         string
	CompositeHash         string
	SignalCount           int
	Confidence            float64
	FirstSeen             time.Time
	LastSeen              time.Time
}

// DeviceTrust records an operator's approval decision for a device. A
// missing row is equivalent to TrustUnknown.
type DeviceTrust struct {
	DeviceID   int64
	Status     TrustStatus
	ApprovedBy string
	UpdatedAt  time.Time
}

// IncidentStatus is the lifecycle state of an Incident.
type IncidentStatus string

const (
	IncidentActive IncidentStatus = "active"
	IncidentClosed IncidentStatus = "closed"
)

// Severity is shared by Alert and Incident.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// MaxSeverity returns the higher-ranked of a and b.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// Incident groups alerts from one source within a time window.
type Incident struct {
	ID           int64
	SourceIP     string
	SourceMAC    string
	Status       IncidentStatus
	Severity     Severity
	AlertCount   int
	FirstAlertAt time.Time
	LastAlertAt  time.Time
	ClosedAt     *time.Time
	Summary      string
}

// Alert is a single alertable finding, optionally linked to an incident.
type Alert struct {
	ID          int64
	IncidentID  *int64
	AlertType   string
	Severity    Severity
	Title       string
	Detail      string
	SourceIP    string
	SourceMAC   string
	DeviceID    *int64
	DecoyID     *int64
	EventSeq    *int64
	ReadAt      *time.Time
	ActionedAt  *time.Time
	ActionNote  string
	CreatedAt   time.Time
}

// DecoyStatus is the lifecycle state of a Decoy.
type DecoyStatus string

const (
	DecoyActive   DecoyStatus = "active"
	DecoyDegraded DecoyStatus = "degraded"
	DecoyStopped  DecoyStatus = "stopped"
)

// Decoy is a deception service tracked by the orchestrator.
type Decoy struct {
	ID                  int64
	Name                string
	DecoyType           string
	BindAddress         string
	Port                int
	Status              DecoyStatus
	Config              string // JSON-encoded archetype configuration
	ConnectionCount     int
	CredentialTripCount int
	FailureCount        int
	LastFailureAt       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PlantedCredential is a synthetic credential value seeded into a decoy or
// canary. CredentialValue must never grant access to a real system.
type PlantedCredential struct {
	ID              int64
	CredentialType  string
	CredentialValue string
	CanaryHostname  string
	PlantedLocation string
	DecoyID         *int64
	Tripped         bool
	FirstTrippedAt  *time.Time
	CreatedAt       time.Time
}

// DecoyConnection records one inbound connection to a decoy.
type DecoyConnection struct {
	ID             int64
	DecoyID        int64
	SourceIP       string
	SourceMAC      string
	Port           int
	Protocol       string
	RequestPath    string
	CredentialUsed string
	CredentialID   *int64
	EventSeq       *int64
	Timestamp      time.Time
}

// CanaryObservation records a DNS lookup of a planted canary hostname.
type CanaryObservation struct {
	ID            int64
	CredentialID  int64
	CanaryHost    string
	QueriedByIP   string
	QueriedByMAC  string
	EventSeq      *int64
	ObservedAt    time.Time
}

// ConnectionBaseline is a learned (device, destination) pair.
type ConnectionBaseline struct {
	ID        int64
	DeviceID  int64
	DestIP    string
	DestPort  int
	HitCount  int
	FirstSeen time.Time
	LastSeen  time.Time
}

// DeviceOpenPort is one open-port observation for a device.
type DeviceOpenPort struct {
	ID          int64
	DeviceID    int64
	Port        int
	Protocol    string
	ServiceName string
	Banner      string
	FirstSeen   time.Time
	LastSeen    time.Time
}

// SecurityInsightState tracks alert-emission dedup for one (device, risk).
type SecurityInsightState struct {
	ID         int64
	DeviceID   int64
	InsightKey string
	AlertID    int64
	Dismissed  bool
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// ServiceProfile is a deep probe result for one (device, port, protocol).
type ServiceProfile struct {
	ID           int64
	DeviceID     int64
	Port         int
	Protocol     string
	HTTPStatus   int
	Headers      string // JSON-encoded selected response headers
	BodySnippet  string
	FaviconHash  string
	TLSCommonName string
	TLSIssuer    string
	TLSNotAfter  *time.Time
	Banner       string
	FirstSeen    time.Time
	LastSeen     time.Time
}

// VirtualIP is an additional IP aliased on the host interface while a mimic
// decoy owns it.
type VirtualIP struct {
	ID         int64
	IPAddress  string
	Interface  string
	DecoyID    *int64
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

// MimicTemplate is a generated blueprint for impersonating a real device.
type MimicTemplate struct {
	ID                 int64
	DeviceID           int64
	Category           string
	RouteTable         string // JSON-encoded (path,method) -> response
	ServerHeader       string
	CredentialStrategy string
	MDNSServiceType    string
	MDNSName           string
	Ports              string // JSON-encoded []int
	CreatedAt          time.Time
}
