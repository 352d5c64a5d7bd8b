// Package gateway is the serving facade: REST queries over the in-process
// cache and a WebSocket hub streaming live indicator values per subscription.
package gateway

import (
	"context"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/a-dev-mobile/t-indicators/internal/cache"
	"github.com/a-dev-mobile/t-indicators/internal/metrics"
	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// Registrar is the engine surface the gateway needs: lazy registration of
// valid unseen specs and activity tracking for retention.
type Registrar interface {
	Register(ctx context.Context, spec model.Spec) error
	Registered(specID string) bool
	Touch(spec model.Spec)
}

// Hub owns all WebSocket clients and fans computed values out to their
// subscriptions. It implements model.ValueSink; Publish never blocks.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	reg   Registrar
	cache *cache.Cache
	met   *metrics.Metrics
}

// NewHub creates a hub serving the given engine and cache.
func NewHub(reg Registrar, c *cache.Cache, met *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		reg:     reg,
		cache:   c,
		met:     met,
	}
}

// HandleWS registers a new WebSocket connection and starts its pumps.
func (h *Hub) HandleWS(conn *websocket.Conn) {
	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		hub:    h,
		subs:   make(map[string]*subscription),
		bySpec: make(map[string][]string),
	}

	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()

	if h.met != nil {
		h.met.WSClients.Inc()
	}
	log.Printf("[gateway] ws client connected (total: %d)", n)

	go client.writePump()
	go client.readPump()
}

// removeClient drops a client and all its subscriptions.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.done)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	if h.met != nil {
		h.met.WSClients.Dec()
		h.met.WSSubscriptions.Sub(float64(c.subCount()))
	}
}

// Publish fans a computed value out to every subscription on its spec.
// Implements model.ValueSink; slow clients drop frames.
func (h *Hub) Publish(v model.Value) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.deliver(v)
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
