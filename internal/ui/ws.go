package ui

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is served on the LAN only
	},
}

// WSMessage is the envelope pushed to websocket clients
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WSSummary is the payload of a "summary" message
type WSSummary struct {
	Generation uint64        `json:"generation"`
	FetchedAt  time.Time     `json:"fetched_at"`
	Summary    fleet.Summary `json:"summary"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex // one writer at a time
}

func (c *wsClient) write(msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(msg)
}

// WSHub pushes fleet summaries to websocket clients
type WSHub struct {
	log     logr.Logger
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	current func() *WSSummary
}

func NewWSHub(log logr.Logger, current func() *WSSummary) *WSHub {
	return &WSHub{
		log:     log.WithName("WSHub"),
		clients: make(map[*wsClient]struct{}),
		current: current,
	}
}

func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends message to all websocket clients, dropping the ones that fail
func (h *WSHub) Broadcast(msg WSMessage) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(msg); err != nil {
			h.log.V(1).Info("websocket write failed", "remote", c.conn.RemoteAddr().String(), "error", err)
			h.remove(c)
		}
	}
}

func (h *WSHub) BroadcastSummary(s WSSummary) {
	h.Broadcast(WSMessage{Type: "summary", Data: s})
}

func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
		h.log.V(1).Info("websocket client disconnected", "total_clients", n)
	}
}

func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(err, "websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}
	c := &wsClient{conn: conn}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.V(1).Info("websocket client connected", "remote", r.RemoteAddr, "total_clients", n)

	if h.current != nil {
		if s := h.current(); s != nil {
			if err := c.write(WSMessage{Type: "summary", Data: s}); err != nil {
				h.remove(c)
				return
			}
		}
	}

	// Drain client frames until the peer goes away
	defer h.remove(c)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
