package presence

import "sync"

// Tracker maintains which users are reachable on this instance. A user may
// hold several connections at once (one per device/tab); only the
// empty/non-empty transition of their connection set counts as an
// online/offline change, and that transition is decided under the lock from
// the post-mutation state so overlapping connects and disconnects cannot
// produce duplicate announcements.
type Tracker struct {
	mu    sync.RWMutex
	conns map[int64]map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{conns: make(map[int64]map[string]struct{})}
}

// Connect registers a connection and reports whether the user just came
// online (first connection).
func (t *Tracker) Connect(userID int64, connID string) (wentOnline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		t.conns[userID] = set
	}
	set[connID] = struct{}{}
	return len(set) == 1
}

// Disconnect removes a connection and reports whether the user just went
// offline (last connection gone). Unknown connections are a no-op.
func (t *Tracker) Disconnect(userID int64, connID string) (wentOffline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.conns[userID]
	if !ok {
		return false
	}
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(t.conns, userID)
		return true
	}
	return false
}

func (t *Tracker) IsOnline(userID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns[userID]) > 0
}

func (t *Tracker) OnlineUsers() []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]int64, 0, len(t.conns))
	for id := range t.conns {
		out = append(out, id)
	}
	return out
}

// Connections returns how many live connections a user holds.
func (t *Tracker) Connections(userID int64) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns[userID])
}
