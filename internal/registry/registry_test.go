package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// fakeHomeAssistant serves the subset of the REST/WebSocket surface the
// client exercises: GET /api/ for connectivity, and an authenticated
// WebSocket command/response cycle for registry queries.
func fakeHomeAssistant(t *testing.T, token string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/websocket", func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(wsMessage{Type: "auth_required"})

		var auth wsMessage
		if err := conn.ReadJSON(&auth); err != nil || auth.Token != token {
			conn.WriteJSON(wsMessage{Type: "auth_invalid"})
			return
		}
		conn.WriteJSON(wsMessage{Type: "auth_ok"})

		var cmd wsMessage
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		switch cmd.Type {
		case "config/device_registry/list":
			conn.WriteJSON(wsMessage{
				Success: true,
				Result: []byte(`[
					{"id":"dev1","name":"Living Room Camera","manufacturer":"Acme","model":"Cam-1",
					 "connections":[["mac","AA:BB:CC:DD:EE:FF"]],"area_id":"living_room"},
					{"id":"dev2","name":"No MAC Device","connections":[]}
				]`),
			})
		case "config/area_registry/list":
			conn.WriteJSON(wsMessage{
				Success: true,
				Result:  []byte(`[{"area_id":"living_room","name":"Living Room"}]`),
			})
		default:
			conn.WriteJSON(wsMessage{Success: false})
		}
	})
	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, srv *httptest.Server, token string) *Client {
	t.Helper()
	return New(srv.URL, token)
}

func TestTestConnectionSucceedsWithValidToken(t *testing.T) {
	srv := fakeHomeAssistant(t, "good-token")
	defer srv.Close()
	c := newTestClient(t, srv, "good-token")

	if !c.TestConnection(context.Background()) {
		t.Fatal("expected TestConnection to succeed")
	}
}

func TestTestConnectionFailsWithBadToken(t *testing.T) {
	srv := fakeHomeAssistant(t, "good-token")
	defer srv.Close()
	c := newTestClient(t, srv, "wrong-token")

	if c.TestConnection(context.Background()) {
		t.Fatal("expected TestConnection to fail")
	}
}

func TestListDevicesSkipsEntriesWithoutMAC(t *testing.T) {
	srv := fakeHomeAssistant(t, "good-token")
	defer srv.Close()
	c := newTestClient(t, srv, "good-token")

	devices := c.ListDevices(context.Background())
	if len(devices) != 1 {
		t.Fatalf("expected 1 device with a MAC, got %d", len(devices))
	}
	d := devices[0]
	if d.ID != "dev1" || d.AreaID != "living_room" {
		t.Errorf("unexpected device: %+v", d)
	}
	if len(d.MACAddresses) != 1 || !strings.EqualFold(d.MACAddresses[0], "aa:bb:cc:dd:ee:ff") {
		t.Errorf("unexpected MACs: %v", d.MACAddresses)
	}
}

func TestListAreas(t *testing.T) {
	srv := fakeHomeAssistant(t, "good-token")
	defer srv.Close()
	c := newTestClient(t, srv, "good-token")

	areas := c.ListAreas(context.Background())
	if len(areas) != 1 || areas[0].Name != "Living Room" {
		t.Fatalf("unexpected areas: %+v", areas)
	}
}

func TestListDevicesReturnsEmptyOnUnreachableRegistry(t *testing.T) {
	c := New("http://127.0.0.1:1", "token")
	if got := c.ListDevices(context.Background()); got != nil {
		t.Errorf("expected nil devices from an unreachable registry, got %v", got)
	}
}
