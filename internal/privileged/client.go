package privileged

import (
	"fmt"
	"net/rpc"
	"strings"
	"sync"
	"time"
)

// Config controls how Client dials and times out against the collaborator.
type Config struct {
	SocketPath  string
	CallTimeout time.Duration
}

// DefaultConfig returns the standard socket path and per-call timeout.
func DefaultConfig() Config {
	return Config{SocketPath: DefaultSocketPath, CallTimeout: DefaultCallTimeout}
}

// Client is the RPC client for the privileged operations collaborator.
type Client struct {
	cfg Config
	mu  sync.RWMutex
	rpc *rpc.Client
}

// NewClient dials the collaborator's Unix socket.
func NewClient(cfg Config) (*Client, error) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	c, err := rpc.Dial("unix", cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("privileged: dial %s: %w", cfg.SocketPath, err)
	}
	return &Client{cfg: cfg, rpc: c}, nil
}

// Close closes the RPC connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		return c.rpc.Close()
	}
	return nil
}

// call wraps client.Call with reconnect-on-shutdown logic: a collaborator
// restart should not require restarting the sensor.
func (c *Client) call(serviceMethod string, args, reply any) error {
	c.mu.RLock()
	client := c.rpc
	c.mu.RUnlock()

	if client == nil {
		if err := c.reconnect(nil); err != nil {
			return err
		}
		c.mu.RLock()
		client = c.rpc
		c.mu.RUnlock()
	}

	done := make(chan error, 1)
	go func() { done <- client.Call(serviceMethod, args, reply) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(c.cfg.CallTimeout):
		return fmt.Errorf("privileged: %s timed out after %s", serviceMethod, c.cfg.CallTimeout)
	}

	if err == nil {
		return nil
	}
	if err == rpc.ErrShutdown || isConnectionError(err) {
		if recErr := c.reconnect(client); recErr != nil {
			return fmt.Errorf("privileged: %s failed (%v) and reconnect failed: %w", serviceMethod, err, recErr)
		}
		c.mu.RLock()
		client = c.rpc
		c.mu.RUnlock()
		return client.Call(serviceMethod, args, reply)
	}
	return err
}

func (c *Client) reconnect(oldClient *rpc.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpc != oldClient && c.rpc != nil {
		return nil
	}
	if c.rpc != nil {
		c.rpc.Close()
	}
	client, err := rpc.Dial("unix", c.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("reconnect to %s: %w", c.cfg.SocketPath, err)
	}
	c.rpc = client
	return nil
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection is shut down") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "unexpected EOF")
}

// ARPScan requests an ARP sweep of subnet (CIDR) and returns the observed
// (ip, mac) pairs.
func (c *Client) ARPScan(subnet string) ([]ARPEntry, error) {
	var reply ARPScanReply
	if err := c.call("Collaborator.ARPScan", &ARPScanArgs{Subnet: subnet}, &reply); err != nil {
		return nil, err
	}
	return reply.Entries, nil
}

// ServiceScan banner-grabs the given targets/ports.
func (c *Client) ServiceScan(targets []string, ports []int) ([]ServiceScanResult, error) {
	var reply ServiceScanReply
	if err := c.call("Collaborator.ServiceScan", &ServiceScanArgs{Targets: targets, Ports: ports}, &reply); err != nil {
		return nil, err
	}
	return reply.Results, nil
}

// BindListener asks the collaborator to bind a privileged port (<1024) and
// returns an opaque handle. Used only when a mimic template itself needs
// to listen below 1024; the common case redirects via SetupPortForwards
// instead and lets the decoy bind a high port.
func (c *Client) BindListener(address string, port int) (string, error) {
	var reply BindListenerReply
	if err := c.call("Collaborator.BindListener", &BindListenerArgs{Address: address, Port: port}, &reply); err != nil {
		return "", err
	}
	return reply.Handle, nil
}

// StartDNSSniff begins passive DNS query capture on an interface.
func (c *Client) StartDNSSniff(iface string) error {
	return c.call("Collaborator.StartDNSSniff", &DNSSniffArgs{Interface: iface}, &Empty{})
}

// StopDNSSniff stops passive DNS query capture on an interface.
func (c *Client) StopDNSSniff(iface string) error {
	return c.call("Collaborator.StopDNSSniff", &DNSSniffArgs{Interface: iface}, &Empty{})
}

// RecentDNSQueries returns every DNS query observed since the given time.
// Pass the zero Time to fetch everything the collaborator still holds.
func (c *Client) RecentDNSQueries(since time.Time) ([]DNSQuery, error) {
	var reply RecentDNSQueriesReply
	if err := c.call("Collaborator.RecentDNSQueries", &RecentDNSQueriesArgs{Since: since}, &reply); err != nil {
		return nil, err
	}
	return reply.Queries, nil
}

// AddIPAlias aliases ip onto iface.
func (c *Client) AddIPAlias(ip, iface, mask string) (bool, error) {
	var reply BoolReply
	if err := c.call("Collaborator.AddIPAlias", &AddIPAliasArgs{IP: ip, Interface: iface, Mask: mask}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

// RemoveIPAlias removes a previously aliased IP from iface.
func (c *Client) RemoveIPAlias(ip, iface string) (bool, error) {
	var reply BoolReply
	if err := c.call("Collaborator.RemoveIPAlias", &RemoveIPAliasArgs{IP: ip, Interface: iface}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

// SetupPortForwards installs a batch of (virtual_ip, privileged_port) →
// (virtual_ip, decoy_port) redirect rules on iface.
func (c *Client) SetupPortForwards(rules []PortForwardRule, iface string) (bool, error) {
	var reply BoolReply
	if err := c.call("Collaborator.SetupPortForwards", &SetupPortForwardsArgs{Rules: rules, Interface: iface}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

// ClearPortForwards removes every redirect rule the sensor has installed.
func (c *Client) ClearPortForwards() (bool, error) {
	var reply BoolReply
	if err := c.call("Collaborator.ClearPortForwards", &Empty{}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

var _ Collaborator = (*Client)(nil)
