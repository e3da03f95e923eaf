package decoy

import (
	"context"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rocketweb/squirrelops-sensor/internal/clock"
)

// emulator is a lightweight HTTP server that replies from a static route
// table and reports every request to an onConnection callback, scanning
// headers and the body for planted credential values along the way.
type emulator struct {
	bindAddress string
	routes      RouteTable
	credentials []string // planted values to watch for, longest first

	onConnection func(ConnectionEvent)

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	port     int
	alive    bool
}

func newEmulator(bindAddress string, port int, routes RouteTable, creds []string, onConnection func(ConnectionEvent)) *emulator {
	sorted := append([]string(nil), creds...)
	// longest-first so a credential that is a substring of another can't
	// shadow the more specific match.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && len(sorted[j]) > len(sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return &emulator{
		bindAddress: bindAddress,
		routes:      routes,
		credentials: sorted,
		port:        port,
		onConnection: onConnection,
	}
}

// start binds the listener (resolving port 0 to an OS-assigned port) and
// begins serving in the background. The resolved port is returned.
func (e *emulator) start() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ln, err := net.Listen("tcp", net.JoinHostPort(e.bindAddress, strconv.Itoa(e.port)))
	if err != nil {
		return 0, err
	}
	e.listener = ln
	e.port = ln.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/", e.handle)
	e.server = &http.Server{Handler: mux}
	e.alive = true

	go func() {
		_ = e.server.Serve(ln)
	}()

	return e.port, nil
}

func (e *emulator) stop(ctx context.Context) error {
	e.mu.Lock()
	server := e.server
	e.alive = false
	e.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// isAlive reports whether the listener is still bound and serving.
func (e *emulator) isAlive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.alive || e.listener == nil {
		return false
	}
	conn, err := net.DialTimeout("tcp", e.listener.Addr().String(), 500*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (e *emulator) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))

	route, ok := e.routes[routeKey(r.Method, r.URL.Path)]
	if !ok {
		http.NotFound(w, r)
	} else {
		for k, v := range route.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(route.Status)
		_, _ = w.Write(route.Body)
	}

	credUsed := e.detectCredential(r.Header.Get("Authorization"), string(body))

	host, portStr, _ := net.SplitHostPort(r.RemoteAddr)
	srcPort, _ := strconv.Atoi(portStr)

	if e.onConnection != nil {
		e.onConnection(ConnectionEvent{
			SourceIP:       host,
			SourcePort:     srcPort,
			DestPort:       e.port,
			Protocol:       "tcp",
			RequestPath:    r.URL.Path,
			CredentialUsed: credUsed,
			Timestamp:      clock.Now(),
		})
	}
}

// detectCredential checks the Authorization header (raw, and Base64-decoded
// for Basic auth) and the request body against the planted value set. The
// first match wins.
func (e *emulator) detectCredential(authHeader, body string) string {
	if decoded, ok := decodeBasicAuth(authHeader); ok {
		for _, c := range e.credentials {
			if strings.Contains(decoded, c) {
				return c
			}
		}
	}
	for _, c := range e.credentials {
		if c == "" {
			continue
		}
		if strings.Contains(authHeader, c) || strings.Contains(body, c) {
			return c
		}
	}
	return ""
}

func decodeBasicAuth(header string) (string, bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// Emulator is the exported handle to a running emulator, for callers
// outside this package that need to serve a route table not tied to an
// archetype — internal/mimic binds one per virtual IP it deploys.
type Emulator struct {
	e *emulator
}

// NewEmulator starts an HTTP emulator serving routes, bound to
// bindAddress:port (port 0 picks an OS-assigned port). credentials are
// planted values to watch inbound requests for, same matching rules as an
// archetype decoy; pass nil if the caller plants nothing.
func NewEmulator(bindAddress string, port int, routes RouteTable, credentials []string, onConnection func(ConnectionEvent)) *Emulator {
	return &Emulator{e: newEmulator(bindAddress, port, routes, credentials, onConnection)}
}

// Start binds the listener and begins serving, returning the bound port.
func (h *Emulator) Start() (int, error) { return h.e.start() }

// Stop gracefully shuts the emulator down.
func (h *Emulator) Stop(ctx context.Context) error { return h.e.stop(ctx) }

// IsAlive reports whether the emulator's listener is still accepting
// connections.
func (h *Emulator) IsAlive() bool { return h.e.isAlive() }
