package privileged

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// MockCollaborator is a mock implementation of Collaborator for testing
// internal/canary and internal/mimic without a real privileged process.
type MockCollaborator struct {
	mock.Mock
}

func (m *MockCollaborator) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockCollaborator) ARPScan(subnet string) ([]ARPEntry, error) {
	args := m.Called(subnet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ARPEntry), args.Error(1)
}

func (m *MockCollaborator) ServiceScan(targets []string, ports []int) ([]ServiceScanResult, error) {
	args := m.Called(targets, ports)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ServiceScanResult), args.Error(1)
}

func (m *MockCollaborator) BindListener(address string, port int) (string, error) {
	args := m.Called(address, port)
	return args.String(0), args.Error(1)
}

func (m *MockCollaborator) StartDNSSniff(iface string) error {
	args := m.Called(iface)
	return args.Error(0)
}

func (m *MockCollaborator) StopDNSSniff(iface string) error {
	args := m.Called(iface)
	return args.Error(0)
}

func (m *MockCollaborator) RecentDNSQueries(since time.Time) ([]DNSQuery, error) {
	args := m.Called(since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]DNSQuery), args.Error(1)
}

func (m *MockCollaborator) AddIPAlias(ip, iface, mask string) (bool, error) {
	args := m.Called(ip, iface, mask)
	return args.Bool(0), args.Error(1)
}

func (m *MockCollaborator) RemoveIPAlias(ip, iface string) (bool, error) {
	args := m.Called(ip, iface)
	return args.Bool(0), args.Error(1)
}

func (m *MockCollaborator) SetupPortForwards(rules []PortForwardRule, iface string) (bool, error) {
	args := m.Called(rules, iface)
	return args.Bool(0), args.Error(1)
}

func (m *MockCollaborator) ClearPortForwards() (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}

var _ Collaborator = (*MockCollaborator)(nil)
