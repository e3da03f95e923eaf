// Package registry is a client for an external home-automation device/area
// registry (Home Assistant's device and area registries, per the original
// integration this module generalizes). Connectivity uses a short-lived
// REST request; registry queries ride a short-lived WebSocket connection,
// since the registry itself isn't exposed over REST. Every call degrades to
// an empty result on failure rather than propagating an error the sensor
// has no useful way to act on.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocketweb/squirrelops-sensor/internal/logging"
)

const timeout = 5 * time.Second

// Device is one entry from the registry's device list, kept to the fields
// devicemgr.EnrichDevice consumes.
type Device struct {
	ID           string
	Name         string
	Manufacturer string
	Model        string
	MACAddresses []string
	AreaID       string
}

// Area is one entry from the registry's area list.
type Area struct {
	ID   string
	Name string
}

// Client talks to one registry instance over REST (connectivity) and
// WebSocket (device/area registry queries).
type Client struct {
	baseURL string
	wsURL   string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
	log     *logging.Logger
}

// New builds a Client for the registry at baseURL (e.g.
// "http://homeassistant.local:8123"), authenticating registry queries with
// a long-lived access token.
func New(baseURL, token string) *Client {
	base := strings.TrimRight(baseURL, "/")
	ws := strings.Replace(strings.Replace(base, "https://", "wss://", 1), "http://", "ws://", 1)
	return &Client{
		baseURL: base,
		wsURL:   ws,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		log:     logging.WithComponent("registry"),
	}
}

// TestConnection reports whether the registry's REST API answers with 200.
func (c *Client) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("registry connectivity check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListDevices fetches the registry's device list. Returns an empty slice,
// never an error, on any failure — a registry outage must never block the
// scan cycle.
func (c *Client) ListDevices(ctx context.Context) []Device {
	raw, err := c.command(ctx, "config/device_registry/list")
	if err != nil {
		c.log.Debug("list devices failed", "error", err)
		return nil
	}
	var entries []deviceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.log.Debug("decode device registry failed", "error", err)
		return nil
	}
	out := make([]Device, 0, len(entries))
	for _, e := range entries {
		var macs []string
		for _, conn := range e.Connections {
			if len(conn) == 2 && conn[0] == "mac" {
				macs = append(macs, strings.ToLower(conn[1]))
			}
		}
		if len(macs) == 0 {
			continue
		}
		out = append(out, Device{
			ID:           e.ID,
			Name:         e.Name,
			Manufacturer: e.Manufacturer,
			Model:        e.Model,
			MACAddresses: macs,
			AreaID:       e.AreaID,
		})
	}
	return out
}

// ListAreas fetches the registry's area list, same empty-on-failure
// contract as ListDevices.
func (c *Client) ListAreas(ctx context.Context) []Area {
	raw, err := c.command(ctx, "config/area_registry/list")
	if err != nil {
		c.log.Debug("list areas failed", "error", err)
		return nil
	}
	var entries []areaEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.log.Debug("decode area registry failed", "error", err)
		return nil
	}
	out := make([]Area, 0, len(entries))
	for _, e := range entries {
		out = append(out, Area{ID: e.AreaID, Name: e.Name})
	}
	return out
}

type deviceEntry struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Manufacturer string     `json:"manufacturer"`
	Model        string     `json:"model"`
	Connections  [][]string `json:"connections"`
	AreaID       string     `json:"area_id"`
}

type areaEntry struct {
	AreaID string `json:"area_id"`
	Name   string `json:"name"`
}

type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Token   string          `json:"access_token,omitempty"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// command opens a short-lived WebSocket connection, authenticates, sends a
// single command, and returns its raw result payload.
func (c *Client) command(ctx context.Context, commandType string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*timeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL+"/api/websocket", nil)
	if err != nil {
		return nil, fmt.Errorf("dial registry websocket: %w", err)
	}
	defer conn.Close()

	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != "auth_required" {
		return nil, fmt.Errorf("unexpected handshake message %q", hello.Type)
	}

	if err := conn.WriteJSON(wsMessage{Type: "auth", Token: c.token}); err != nil {
		return nil, fmt.Errorf("send auth: %w", err)
	}
	var authResp wsMessage
	if err := conn.ReadJSON(&authResp); err != nil {
		return nil, fmt.Errorf("read auth response: %w", err)
	}
	if authResp.Type != "auth_ok" {
		return nil, fmt.Errorf("auth failed: %s", authResp.Type)
	}

	if err := conn.WriteJSON(wsMessage{ID: 1, Type: commandType}); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}
	var resp wsMessage
	if err := conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("read command response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("command %q failed", commandType)
	}
	return resp.Result, nil
}
