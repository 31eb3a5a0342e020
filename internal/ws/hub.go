package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// commandTimeout bounds how long a control command waits on a full client
// queue.
const commandTimeout = time.Second

// ErrUndelivered is returned when a command reached no client of the session.
var ErrUndelivered = errors.New("command not delivered to any client")

// Hub fans outbound events out to the websocket clients of each session.
type Hub struct {
	clients   map[*Client]bool
	sessions  map[uuid.UUID]map[*Client]bool
	broadcast chan Event
	mu        sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*Client]bool),
		sessions:  make(map[uuid.UUID]map[*Client]bool),
		broadcast: make(chan Event, 256),
	}
}

// Run delivers broadcasts until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event := <-h.broadcast:
			h.broadcastToSession(event)
		}
	}
}

// Register adds a client. It takes effect immediately so ConnectedClients
// reflects the connection before the first message is read.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	if h.sessions[client.sessionID] == nil {
		h.sessions[client.sessionID] = make(map[*Client]bool)
	}
	h.sessions[client.sessionID][client] = true
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(client)
}

func (h *Hub) dropLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	delete(h.sessions[client.sessionID], client)

	if len(h.sessions[client.sessionID]) == 0 {
		delete(h.sessions, client.sessionID)
	}

	close(client.send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.dropLocked(client)
	}
}

func (h *Hub) broadcastToSession(event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.sessions[event.SessionID] {
		select {
		case client.send <- message:
		default:
			// slow consumer
			h.dropLocked(client)
		}
	}
}

// Broadcast queues an event for every client of the session. Events are
// dropped when the hub is saturated.
func (h *Hub) Broadcast(sessionID uuid.UUID, eventType EventType, data any) {
	event := Event{
		SessionID: sessionID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- event:
	default:
	}
}

// Command delivers a control event to every client of the session, waiting
// up to commandTimeout on each full queue instead of dropping it. It fails
// with ErrUndelivered when no client took the event.
func (h *Hub) Command(sessionID uuid.UUID, eventType EventType, data any) error {
	message, err := json.Marshal(Event{
		SessionID: sessionID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	delivered := 0
	for client := range h.sessions[sessionID] {
		select {
		case client.send <- message:
			delivered++
		case <-ctx.Done():
		}
	}
	if delivered == 0 {
		return fmt.Errorf("%s: %w", eventType, ErrUndelivered)
	}
	return nil
}

// ConnectedClients returns the number of live connections of a session.
func (h *Hub) ConnectedClients(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.sessions[sessionID])
}
