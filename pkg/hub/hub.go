package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/kontext-voice/internal/log"
)

// Hub maintains the set of active clients and broadcasts messages to them.
// The latest message of each type is replayed to clients as they join.
type Hub struct {
	name   string
	logger *slog.Logger

	clients    map[*Client]bool
	latest     map[string]Message
	order      []string
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// Guards the client count for readers outside the loop.
	mu    sync.RWMutex
	count int
}

// New creates a Hub.
func New(name string, logger *slog.Logger) *Hub {
	return &Hub{
		name:       name,
		logger:     log.Or(logger, "hub").With("hub", name),
		clients:    make(map[*Client]bool),
		latest:     make(map[string]Message),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled, closing
// every client's send queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer func() {
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		h.setCount(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			for _, typ := range h.order {
				select {
				case client.send <- h.latest[typ]:
				default:
				}
			}
			h.setCount(len(h.clients))
			h.logger.Info("client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.setCount(len(h.clients))
			h.logger.Info("client disconnected", "clients", len(h.clients))

		case message := <-h.broadcast:
			if _, seen := h.latest[message.Type]; !seen {
				h.order = append(h.order, message.Type)
			}
			h.latest[message.Type] = message

			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Too slow; drop the client rather than block everyone.
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropped slow client")
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

// Broadcast queues a message for all clients.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.logger.Warn("broadcast queue full, dropping message", "type", msg.Type)
	}
}

// BroadcastJSON encodes v in an envelope and broadcasts it.
func (h *Hub) BroadcastJSON(typ string, v any) error {
	msg, err := NewMessage(typ, v)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// Forward broadcasts every value received from updates as typ until the
// channel closes or ctx is cancelled.
func Forward[T any](ctx context.Context, h *Hub, typ string, updates <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-updates:
			if !ok {
				return
			}
			if err := h.BroadcastJSON(typ, v); err != nil {
				h.logger.Error("encode update", "type", typ, "error", err)
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}
