package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
)

const (
	pingEvery   = 45 * time.Second
	readTimeout = 90 * time.Second
	clientQueue = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Event is one message pushed to websocket clients.
type Event struct {
	Type string `json:"type"` // key, status, provider, market, hello
	Data any    `json:"data,omitempty"`
	At   int64  `json:"at"`
}

type client struct {
	conn *websocket.Conn
	out  chan Event
	done chan struct{}
}

// hub fans events out to every connected client. Slow clients drop events.
type hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) broadcast(typ string, data any) {
	ev := Event{Type: typ, Data: data, At: time.Now().UnixMilli()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.out <- ev:
		default:
			observ.IncCounter("ws_events_dropped_total", map[string]string{"type": typ})
		}
	}
}

func (h *hub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	observ.SetGauge("ws_clients", float64(len(h.clients)), nil)
	return true
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.done)
	observ.SetGauge("ws_clients", float64(len(h.clients)), nil)
}

func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		_ = c.conn.Close()
	}
}

// serveWS upgrades the request and relays hub events until the peer leaves.
// Incoming frames are read only to service pongs and detect disconnects.
func (h *hub) serveWS(hello func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			observ.Log("ws_upgrade_failed", map[string]any{"error": err.Error(), "level": "warn"})
			return
		}
		defer conn.Close()

		cl := &client{conn: conn, out: make(chan Event, clientQueue), done: make(chan struct{})}
		if !h.add(cl) {
			return
		}
		defer h.remove(cl)
		observ.Log("ws_client_connected", map[string]any{"remote": r.RemoteAddr})

		cl.out <- Event{Type: "hello", Data: hello(), At: time.Now().UnixMilli()}

		go func() {
			ping := time.NewTicker(pingEvery)
			defer ping.Stop()
			for {
				select {
				case ev := <-cl.out:
					if err := conn.WriteJSON(ev); err != nil {
						_ = conn.Close()
						return
					}
				case <-ping.C:
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				case <-cl.done:
					return
				}
			}
		}()

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		observ.Log("ws_client_disconnected", map[string]any{"remote": r.RemoteAddr})
	}
}
