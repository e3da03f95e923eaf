package eventbus

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rocketweb/squirrelops-sensor/internal/logging"
)

// upgrader is permissive on origin since the REST/WebSocket API surface
// itself is an external collaborator; this helper only gives the bus a
// concrete live-tail transport to exercise.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades r to a WebSocket connection and streams every
// subsequently published event (optionally filtered by types) to the
// client as JSON text frames until the connection closes.
func (b *Bus) ServeWS(w http.ResponseWriter, r *http.Request, types ...EventType) {
	log := logging.WithComponent("eventbus.ws")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := b.Subscribe(256, types...)
	defer b.Unsubscribe(ch)

	for e := range ch {
		encoded, err := json.Marshal(e)
		if err != nil {
			log.Warn("encode event for ws failed", "error", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
			return
		}
	}
}
