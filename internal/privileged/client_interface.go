package privileged

import "time"

// Collaborator is the subset of the privileged operations contract (spec §6)
// the sensor core consumes. internal/canary and internal/mimic depend on
// this interface rather than *Client so tests can supply a fake
// collaborator instead of dialing a real Unix socket.
type Collaborator interface {
	Close() error

	ARPScan(subnet string) ([]ARPEntry, error)
	ServiceScan(targets []string, ports []int) ([]ServiceScanResult, error)
	BindListener(address string, port int) (string, error)

	StartDNSSniff(iface string) error
	StopDNSSniff(iface string) error
	RecentDNSQueries(since time.Time) ([]DNSQuery, error)

	AddIPAlias(ip, iface, mask string) (bool, error)
	RemoveIPAlias(ip, iface string) (bool, error)

	SetupPortForwards(rules []PortForwardRule, iface string) (bool, error)
	ClearPortForwards() (bool, error)
}
