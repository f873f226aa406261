package hub

import (
	"sync"

	"github.com/yourorg/pairchat/internal/metrics"
)

const sendBuffer = 256

// Client is one live websocket session. The hub never blocks on a client:
// a full send buffer means the event is dropped for that session.
type Client struct {
	UserID int64
	ConnID string

	send      chan []byte
	closeOnce sync.Once
}

func NewClient(userID int64, connID string) *Client {
	return &Client{
		UserID: userID,
		ConnID: connID,
		send:   make(chan []byte, sendBuffer),
	}
}

// Out is the channel the connection's write pump drains.
func (c *Client) Out() <-chan []byte {
	return c.send
}

func (c *Client) deliver(b []byte) bool {
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close releases the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub indexes live clients by user and pushes events to them. Delivery is
// best-effort at-most-once: an offline user simply misses the push and
// catches up on the next list poll.
type Hub struct {
	mu     sync.RWMutex
	byUser map[int64]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{byUser: make(map[int64]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.byUser[c.UserID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.byUser[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
	h.mu.Unlock()
	c.Close()
}

// BroadcastToUser pushes an event to every live session of one user.
func (h *Hub) BroadcastToUser(userID int64, ev Event) {
	b, err := ev.Marshal()
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.pushLocked(userID, b, ev.Type)
}

// BroadcastToUsers pushes one event to the live sessions of a set of users.
func (h *Hub) BroadcastToUsers(userIDs []int64, ev Event) {
	b, err := ev.Marshal()
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range userIDs {
		h.pushLocked(id, b, ev.Type)
	}
}

// BroadcastToAll pushes to every connected session (presence changes).
func (h *Hub) BroadcastToAll(ev Event) {
	b, err := ev.Marshal()
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id := range h.byUser {
		h.pushLocked(id, b, ev.Type)
	}
}

// DeliverRaw hands pre-marshaled bytes to a user's sessions. Used by the
// cross-instance bridge, which receives events already encoded.
func (h *Hub) DeliverRaw(userID int64, b []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.pushLocked(userID, b, "bridge")
}

func (h *Hub) pushLocked(userID int64, b []byte, evType string) {
	set, ok := h.byUser[userID]
	if !ok {
		return
	}
	for c := range set {
		if c.deliver(b) {
			metrics.EventsBroadcast.WithLabelValues(evType).Inc()
		} else {
			metrics.EventsDropped.Inc()
		}
	}
}

// Sessions returns the number of live sessions for a user.
func (h *Hub) Sessions(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}
