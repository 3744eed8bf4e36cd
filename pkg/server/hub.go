package server

import (
	"encoding/json"
	"sync"

	"github.com/MrCodeEU/facecheckin/pkg/capture"
	"github.com/MrCodeEU/facecheckin/pkg/logging"
)

// message is one server-sent event.
type message struct {
	kind string
	data []byte
}

// Hub fans capture events out to connected SSE clients. It implements
// capture.Observer and never blocks the capture loop: clients that fall
// behind miss events.
type Hub struct {
	mu      sync.Mutex
	clients map[chan message]struct{}
	buffer  int
}

// NewHub creates a hub with a per-client buffer of buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		clients: make(map[chan message]struct{}),
		buffer:  buffer,
	}
}

// Observe broadcasts ev to all clients.
func (h *Hub) Observe(ev capture.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.Component("sse").WithError(err).Error("Failed to marshal event")
		return
	}
	msg := message{kind: string(ev.Kind), data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c <- msg:
		default:
			logging.Component("sse").Debug("SSE client buffer full, dropping event")
		}
	}
}

// Subscribe registers a new client.
func (h *Hub) Subscribe() <-chan message {
	c := make(chan message, h.buffer)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	logging.Component("sse").Debugf("SSE client registered. Total clients: %d", n)
	return c
}

// Unsubscribe removes a client registered with Subscribe.
func (h *Hub) Unsubscribe(c <-chan message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		if ch == c {
			delete(h.clients, ch)
			close(ch)
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
