package ui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
)

// SSEBroadcaster manages Server-Sent Events clients and broadcasts updates
type SSEBroadcaster struct {
	clients map[chan string]struct{}
	mu      sync.RWMutex
	log     logr.Logger
}

// NewSSEBroadcaster creates a new SSE broadcaster
func NewSSEBroadcaster(log logr.Logger) *SSEBroadcaster {
	return &SSEBroadcaster{
		clients: make(map[chan string]struct{}),
		log:     log.WithName("SSEBroadcaster"),
	}
}

// Subscribe adds a new SSE client and returns a channel for receiving events
func (b *SSEBroadcaster) Subscribe() chan string {
	ch := make(chan string, 10) // Buffer to prevent blocking
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	n := len(b.clients)
	b.mu.Unlock()
	b.log.V(1).Info("SSE client subscribed", "total_clients", n)
	return ch
}

// Unsubscribe removes an SSE client
func (b *SSEBroadcaster) Unsubscribe(ch chan string) {
	b.mu.Lock()
	delete(b.clients, ch)
	close(ch)
	n := len(b.clients)
	b.mu.Unlock()
	b.log.V(1).Info("SSE client unsubscribed", "total_clients", n)
}

func (b *SSEBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// broadcast sends a message to all connected clients
func (b *SSEBroadcaster) broadcast(event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		b.log.Error(err, "Failed to marshal SSE data")
		return
	}

	msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event, string(jsonData))

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
			// Channel full, skip this client to avoid blocking
			b.log.V(1).Info("SSE client channel full, skipping message", "event", event)
		}
	}
}

// SnapshotEvent announces a newly applied snapshot
type SnapshotEvent struct {
	Generation         uint64    `json:"generation"`
	FetchedAt          time.Time `json:"fetched_at"`
	Devices            int       `json:"devices"`
	NextRefreshSeconds int       `json:"next_refresh_seconds"`
}

func (b *SSEBroadcaster) BroadcastSnapshot(e SnapshotEvent) {
	b.log.V(1).Info("Broadcasting snapshot", "generation", e.Generation)
	b.broadcast("snapshot", e)
}

func (b *SSEBroadcaster) BroadcastStatusChange(t fleet.Transition) {
	b.log.V(1).Info("Broadcasting status change", "device_id", t.DeviceId, "from", t.From, "to", t.To)
	b.broadcast("status-change", t)
}

func (b *SSEBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Send initial comment to open the stream
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		case msg := <-ch:
			w.Write([]byte(msg))
			flusher.Flush()
		}
	}
}
