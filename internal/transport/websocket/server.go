// Package websocket streams delivery outcome events to observers.
//
// Clients open a WebSocket connection to:
//
//	GET /activity/ws
//
// On connect the server pushes every event the activity log records from
// that moment on, one JSON frame per event:
//
//	{"type":"event","outcome":"sent","payload":{...},"at":"...","error":"...","tries":2}
//
// The stream is one-way; anything the client sends is ignored.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/snehjoshi/contactrelay/internal/activity"
	"github.com/snehjoshi/contactrelay/internal/types"
)

const pingInterval = 30 * time.Second

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin WebSocket upgrade requests.
	// A request is considered same-origin when its Origin header matches
	// the Host header (scheme-agnostic). Requests without an Origin header
	// (native clients, curl) are always allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host, err := parseHost(origin)
		if err != nil {
			return false
		}
		return host == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Handler serves the activity event stream.
type Handler struct {
	Log *activity.Log
}

// eventFrame is the JSON structure the server sends to the client.
type eventFrame struct {
	Type    string          `json:"type"` // "event"
	Outcome types.Outcome   `json:"outcome"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
	Error   string          `json:"error,omitempty"`
	Tries   int             `json:"tries,omitempty"`
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	events, cancel := h.Log.Subscribe()
	defer cancel()

	// Drain client frames so close/ping-pong handling works; the payload
	// itself is ignored.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-closed:
			return

		case <-ping.C:
			if err := conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
				return
			}

		case ev, ok := <-events:
			if !ok {
				return
			}
			frame := eventFrame{
				Type:    "event",
				Outcome: ev.Outcome,
				Payload: ev.Payload,
				At:      ev.At,
				Error:   ev.Error,
				Tries:   ev.Tries,
			}
			data, _ := json.Marshal(frame)
			if err := conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
				return
			}
		}
	}
}
