package ws

import "sync"

// Hub is the presence directory and room router: uid → live clients, and
// conversation → clients joined to its room. All maps share one lock; no
// operation under the lock performs I/O.
type Hub struct {
	mu       sync.RWMutex
	presence map[string]map[*Client]struct{}
	rooms    map[uint64]map[*Client]struct{}
	joined   map[*Client]map[uint64]struct{}
}

func NewHub() *Hub {
	return &Hub{
		presence: make(map[string]map[*Client]struct{}),
		rooms:    make(map[uint64]map[*Client]struct{}),
		joined:   make(map[*Client]map[uint64]struct{}),
	}
}

// Register adds the client to its user's presence set. Idempotent.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.presence[c.UID] == nil {
		h.presence[c.UID] = make(map[*Client]struct{})
	}
	h.presence[c.UID][c] = struct{}{}
	if h.joined[c] == nil {
		h.joined[c] = make(map[uint64]struct{})
	}
}

// Unregister removes the client from presence and from every room it
// joined, dropping empty entries.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.presence[c.UID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.presence, c.UID)
		}
	}
	for convID := range h.joined[c] {
		if room, ok := h.rooms[convID]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, convID)
			}
		}
	}
	delete(h.joined, c)
}

// Lookup returns the live clients for a uid, possibly none.
func (h *Hub) Lookup(uid string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.presence[uid]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// JoinRoom adds the client to a conversation's broadcast group. Joining
// twice is a no-op.
func (h *Hub) JoinRoom(convID uint64, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[convID] == nil {
		h.rooms[convID] = make(map[*Client]struct{})
	}
	h.rooms[convID][c] = struct{}{}
	if h.joined[c] == nil {
		h.joined[c] = make(map[uint64]struct{})
	}
	h.joined[c][convID] = struct{}{}
}

// Broadcast fans an envelope out to every client in the room except
// exclude. Delivery is non-blocking per client.
func (h *Hub) Broadcast(convID uint64, env OutEnvelope, exclude *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[convID]))
	for c := range h.rooms[convID] {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.trySend(env)
	}
}

// SendToUser unicasts to every live connection of one user.
func (h *Hub) SendToUser(uid string, env OutEnvelope) {
	for _, c := range h.Lookup(uid) {
		c.trySend(env)
	}
}
