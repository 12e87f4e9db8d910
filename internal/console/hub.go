package console

import (
	"encoding/json"
	"log/slog"
	"sync"

	"nhooyr.io/websocket"
)

// Hub fans console messages out to connected websocket clients.
type Hub struct {
	clients map[*client]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan any

	done     chan struct{}
	stopOnce sync.Once
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. logger must not write back into the hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		logger:     logger,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan any, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("console client connected", "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("console client disconnected", "total", total)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("console marshal", "err", err)
				continue
			}
			h.mu.Lock()
			var slow []*client
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					slow = append(slow, c)
				}
			}
			for _, c := range slow {
				delete(h.clients, c)
				close(c.send)
				h.logger.Warn("console client evicted (too slow)")
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down. Safe to call multiple times.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues a message for every client. It never blocks; messages are
// dropped when the queue is full.
func (h *Hub) Broadcast(msg any) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
