package insight

import "github.com/rocketweb/squirrelops-sensor/internal/storage"

// portRisk describes one port-keyed rule in the risky-port table.
type portRisk struct {
	severity    storage.Severity
	description string
	remediation string
	expectedOn  map[string]bool // device types this port is normal on, suppressing the rule
}

// portRiskTable is the rule table evaluated against each device's open-port
// set. Keys are the raw port number; every match yields a risky_port:<port>
// finding unless the device's type is in expectedOn.
var portRiskTable = map[int]portRisk{
	23: {
		severity:    storage.SeverityHigh,
		description: "Telnet exposes an unencrypted remote shell.",
		remediation: "Disable telnetd and use SSH instead.",
	},
	21: {
		severity:    storage.SeverityMedium,
		description: "FTP transmits credentials and data unencrypted.",
		remediation: "Switch to SFTP/FTPS or disable if unused.",
	},
	445: {
		severity:    storage.SeverityHigh,
		description: "SMB is a common lateral-movement target.",
		remediation: "Restrict SMB to trusted subnets or disable if this isn't a file server.",
		expectedOn:  map[string]bool{"nas": true},
	},
	3389: {
		severity:    storage.SeverityHigh,
		description: "RDP exposed to the LAN is a frequent ransomware entry point.",
		remediation: "Require VPN access for RDP; never expose it directly.",
	},
	5900: {
		severity:    storage.SeverityMedium,
		description: "VNC often runs with weak or no authentication.",
		remediation: "Set a strong VNC password or tunnel it over SSH.",
	},
	27017: {
		severity:    storage.SeverityHigh,
		description: "MongoDB with no authentication is a common breach vector.",
		remediation: "Bind MongoDB to localhost or enable authentication.",
	},
	6379: {
		severity:    storage.SeverityHigh,
		description: "Redis has no authentication by default.",
		remediation: "Set requirepass or bind Redis to localhost.",
	},
	9200: {
		severity:    storage.SeverityMedium,
		description: "Elasticsearch with no authentication exposes indexed data.",
		remediation: "Enable security features or restrict network access.",
	},
}

// unencryptedAdminPorts/encryptedCompanions implement the supplementary
// rule: a plaintext admin port with no TLS-equivalent companion on the same
// device is itself a finding.
var unencryptedAdminPorts = map[int]bool{80: true, 8080: true, 8000: true, 8888: true, 9090: true}
var encryptedCompanionPorts = map[int]bool{443: true, 8443: true}

// adminDeviceTypes are devices where an unencrypted admin port is the norm
// rather than a finding (e.g. a router's own LAN-side admin page).
var adminDeviceTypes = map[string]bool{"router": true}
