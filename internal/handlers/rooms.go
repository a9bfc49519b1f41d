package handlers

import (
	"sync"

	"chatsync/internal/logger"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/utils"

	"golang.org/x/time/rate"
)

// Client is one websocket connection of a signed-in user.
type Client struct {
	ID       string
	UserID   string
	Username string

	conn    utils.JSONWriter
	writeMu sync.Mutex
	limiter *rate.Limiter
}

// Send writes ev to the connection. Writes from different goroutines are serialized.
func (c *Client) Send(ev models.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return utils.SendJSON(c.conn, ev)
}

// Allow reports whether the client may emit another typing event now.
func (c *Client) Allow() bool {
	return c.limiter.Allow()
}

// Hub tracks connections, their users and the conversation rooms they joined.
type Hub struct {
	mu sync.RWMutex
	// conversation id -> connection id -> client
	rooms   map[string]map[string]*Client
	clients map[string]*Client

	metrics *metrics.Metrics
	limit   rate.Limit
	burst   int
}

func NewHub(m *metrics.Metrics, eventsPerSecond float64, burst int) *Hub {
	return &Hub{
		rooms:   make(map[string]map[string]*Client),
		clients: make(map[string]*Client),
		metrics: m,
		limit:   rate.Limit(eventsPerSecond),
		burst:   burst,
	}
}

// Register stores a new connection. It reports whether this is the user's
// first connection (the user just came online).
func (h *Hub) Register(connID, userID, username string, conn utils.JSONWriter) (*Client, bool) {
	c := &Client{
		ID:       connID,
		UserID:   userID,
		Username: username,
		conn:     conn,
		limiter:  rate.NewLimiter(h.limit, h.burst),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	first := !h.onlineLocked(userID)
	h.clients[connID] = c
	h.metrics.Connections.Inc()
	return c, first
}

// Unregister removes the connection from every room. It reports whether this
// was the user's last connection.
func (h *Hub) Unregister(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	for room, conns := range h.rooms {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.clients, connID)
	h.metrics.Connections.Dec()
	h.metrics.Rooms.Set(float64(len(h.rooms)))
	return !h.onlineLocked(c.UserID)
}

func (h *Hub) Join(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][connID] = c
	h.metrics.Rooms.Set(float64(len(h.rooms)))
}

func (h *Hub) Leave(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.rooms[room]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
	h.metrics.Rooms.Set(float64(len(h.rooms)))
}

// InRoom reports whether the connection joined room.
func (h *Hub) InRoom(room, connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][connID]
	return ok
}

// Broadcast sends ev to every connection in room except excludeConnID.
func (h *Hub) Broadcast(room string, ev models.Event, excludeConnID string) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for id, c := range h.rooms[room] {
		if id != excludeConnID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, ev, "Broadcast")
}

// Publish sends ev to the room and to every connection of participants that
// has not joined the room, so background conversations still see it.
func (h *Hub) Publish(room string, participants []string, ev models.Event) {
	h.mu.RLock()
	members := h.rooms[room]
	targets := make([]*Client, 0, len(members))
	for _, c := range members {
		targets = append(targets, c)
	}
	for _, c := range h.clients {
		if _, in := members[c.ID]; in {
			continue
		}
		for _, p := range participants {
			if c.UserID == p {
				targets = append(targets, c)
				break
			}
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, ev, "Publish")
}

func (h *Hub) deliver(targets []*Client, ev models.Event, op string) {
	for _, c := range targets {
		if err := c.Send(ev); err != nil {
			// the read loop notices the broken connection and unregisters it
			logger.Log.Debug("websocket write failed", "op", op, "conn", c.ID, "error", err)
			continue
		}
		h.metrics.EventsRelayed.WithLabelValues(ev.Event).Inc()
	}
}

// IsUserOnline checks if any active connection belongs to the given user
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineLocked(userID)
}

func (h *Hub) onlineLocked(userID string) bool {
	for _, c := range h.clients {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// IsUserInRoom checks if a user has a connection in a specific room
func (h *Hub) IsUserInRoom(userID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[room] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}
