package broadcast

import (
	"sort"
	"sync"

	"github.com/go-monolith/mono/pkg/types"
)

// Hub tracks live clients and their room subscriptions, and fans frames out
// to room members.
type Hub struct {
	clients map[string]*Client         // clientID -> Client
	rooms   map[string]map[string]bool // room -> set of clientIDs
	mu      sync.RWMutex
	logger  types.Logger
}

// NewHub creates a new Hub.
func NewHub(logger types.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]bool),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	h.logger.Debug("Client registered", "clientID", client.ID, "identity", client.Identity)
}

// Unregister removes a client from the hub and every room it joined, then
// closes it. Unknown clients are ignored.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	client, ok := h.clients[clientID]
	if ok {
		for room := range client.rooms {
			h.removeMember(room, clientID)
		}
		client.rooms = make(map[string]bool)
		delete(h.clients, clientID)
	}
	h.mu.Unlock()

	if ok {
		client.Close()
		h.logger.Debug("Client unregistered", "clientID", clientID, "identity", client.Identity)
	}
}

// Join subscribes a registered client to room. It returns false for an
// unknown client.
func (h *Hub) Join(clientID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return false
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]bool)
	}
	h.rooms[room][clientID] = true
	client.rooms[room] = true
	return true
}

// Leave unsubscribes a client from room. Leaving a room that was never joined
// is a no-op.
func (h *Hub) Leave(clientID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.clients[clientID]; ok {
		delete(client.rooms, room)
	}
	h.removeMember(room, clientID)
}

// removeMember must be called with h.mu held.
func (h *Hub) removeMember(room, clientID string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Dispatch queues data for every client subscribed to room at the time of the
// call and returns how many accepted it. A client whose queue is full is
// closed as a slow consumer; the others are unaffected.
func (h *Hub) Dispatch(room string, data []byte) int {
	h.mu.RLock()
	members := h.rooms[room]
	targets := make([]*Client, 0, len(members))
	for clientID := range members {
		if client, ok := h.clients[clientID]; ok {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range targets {
		if client.Enqueue(data) {
			delivered++
			continue
		}
		select {
		case <-client.Done():
		default:
			h.logger.Warn("Closing slow client", "clientID", client.ID, "room", room)
			client.Close()
		}
	}
	return delivered
}

// Send queues data for a single client.
func (h *Hub) Send(clientID string, data []byte) bool {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return client.Enqueue(data)
}

// Subscribers returns the IDs of the clients subscribed to room, sorted.
func (h *Hub) Subscribers(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms[room]))
	for clientID := range h.rooms[room] {
		ids = append(ids, clientID)
	}
	sort.Strings(ids)
	return ids
}

// RoomsOf returns the rooms a client is subscribed to, sorted.
func (h *Hub) RoomsOf(clientID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[clientID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(client.rooms))
	for room := range client.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// CloseAll closes and forgets every client.
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.rooms = make(map[string]map[string]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
	return len(clients)
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of rooms with at least one subscriber.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// RoomClientCount returns the number of clients in a room.
func (h *Hub) RoomClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
