package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Hub fans execution events out to connected clients. Each client watches
// exactly one execution.
type Hub struct {
	mu        sync.RWMutex
	execConns map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		execConns:  make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.execConns[client.ExecutionID]; !ok {
				h.execConns[client.ExecutionID] = make(map[*Client]bool)
			}
			h.execConns[client.ExecutionID][client] = true
			h.mu.Unlock()

			log.Debug().
				Str("execution_id", client.ExecutionID.String()).
				Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.execConns[client.ExecutionID]; ok {
				if _, ok := conns[client]; ok {
					delete(conns, client)
					close(client.Send)
					if len(conns) == 0 {
						delete(h.execConns, client.ExecutionID)
					}
				}
			}
			h.mu.Unlock()

			log.Debug().
				Str("execution_id", client.ExecutionID.String()).
				Msg("WebSocket client disconnected")
		}
	}
}

func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// SendToExecution delivers one serialized event to every watcher of an
// execution. Slow clients are dropped rather than blocking the fan-out.
func (h *Hub) SendToExecution(executionID uuid.UUID, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.execConns[executionID] {
		select {
		case client.Send <- message:
		default:
			log.Warn().
				Str("execution_id", executionID.String()).
				Msg("dropping slow WebSocket client")
		}
	}
}

// HasWatchers reports whether any client is subscribed to the execution.
func (h *Hub) HasWatchers(executionID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.execConns[executionID]) > 0
}
