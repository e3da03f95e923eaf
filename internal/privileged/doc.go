// Package privileged implements the RPC client for the privileged operations
// collaborator: a separate process (out of scope for this module, per spec
// §1) that runs with the elevated capabilities the sensor core never holds
// directly — raw ARP scanning, packet capture, IP alias management, and
// packet-filter rule installation.
//
// # Architecture
//
// The collaborator exposes a net/rpc server over a Unix socket. The sensor
// core connects as a client and calls it for every operation that would
// otherwise require root:
//
//	Sensor core (unprivileged) → RPC Client → Unix Socket → RPC Server (root) → Kernel
//
// # Key Types
//
//   - [Client]: RPC client used by internal/canary and internal/mimic
//   - [Collaborator]: interface for mocking in tests
//
// # Adding New RPC Methods
//
//  1. Define request/reply types in types.go
//  2. Add a client method in client.go
//  3. Add the method to the Collaborator interface
package privileged
