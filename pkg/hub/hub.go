package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Hub tracks connected viewers and broadcasts messages to all of them.
// Slow clients whose buffers fill up are dropped rather than stalling the
// pipeline.
type Hub struct {
	name   string
	logger *slog.Logger

	clients    map[*Client]struct{}
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	count   int
	running atomic.Bool
	dropped atomic.Int64
}

// New creates a hub. Call Run to start it.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub", "hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run delivers broadcasts until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		for client := range h.clients {
			h.remove(client)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setCount()
			h.logger.Debug("client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
				h.logger.Debug("client disconnected", "clients", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.remove(client)
					h.logger.Warn("dropped slow client", "clients", len(h.clients))
				}
			}
		}
	}
}

// remove is only called from the Run goroutine.
func (h *Hub) remove(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

// Broadcast queues msg for all clients. It never blocks; when the queue is
// full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastJSON encodes v and broadcasts it.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(NewJSONMessage(data))
	return nil
}

// BroadcastBinary broadcasts an encoded frame.
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(NewBinaryMessage(data))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dropped returns how many broadcasts were discarded because the queue was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}
