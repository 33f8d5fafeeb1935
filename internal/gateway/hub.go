// Package gateway streams trading events (deals, signals, orders) to
// WebSocket clients. A slow client is disconnected rather than ever
// blocking the hub.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Envelope is the wire format for one event.
type Envelope struct {
	Type string          `json:"type"`
	Seq  int64           `json:"seq"`
	TS   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// Hub fans trading events out to connected WebSocket clients.
type Hub struct {
	log    *slog.Logger
	events chan Envelope

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
}

// NewHub creates a hub with a buffered event queue.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log.With(slog.String("component", "gateway")),
		events:  make(chan Envelope, 256),
		clients: make(map[*Client]bool),
	}
}

// Publish queues an event for broadcast. Non-blocking: when the hub
// is saturated the event is dropped and logged.
func (h *Hub) Publish(eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.log.Error("marshal event failed", slog.String("type", eventType), slog.String("error", err.Error()))
		return
	}
	select {
	case h.events <- Envelope{Type: eventType, TS: time.Now().UTC(), Data: payload}:
	default:
		h.log.Warn("event queue full, dropping", slog.String("type", eventType))
	}
}

// Run broadcasts queued events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case env := <-h.events:
			h.seq++
			env.Seq = h.seq
			msg, _ := json.Marshal(env)
			h.broadcast(msg)
		}
	}
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	// disconnect slow clients outside the read lock
	for _, client := range slow {
		h.log.Warn("client send buffer full, disconnecting", slog.String("addr", client.addr))
		h.remove(client)
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("client connected", slog.String("addr", client.addr), slog.Int("clients", n))
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("client disconnected", slog.String("addr", client.addr), slog.Int("clients", n))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
