package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror copies presence state into Redis so sibling instances and other
// services can read it without asking this process. The in-process Tracker
// stays authoritative for transition detection; the mirror is best effort.
//
// Keys:
//   <prefix>:conn:<userID>      set of connection ids, refreshed on connect
//   <prefix>:presence:<userID>  json {status,last_seen}
type Mirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type Status struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

func NewMirror(client *redis.Client, prefix string, ttl time.Duration) *Mirror {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Mirror{client: client, prefix: prefix, ttl: ttl}
}

func (m *Mirror) connKey(userID int64) string {
	return fmt.Sprintf("%s:conn:%d", m.prefix, userID)
}

func (m *Mirror) presenceKey(userID int64) string {
	return fmt.Sprintf("%s:presence:%d", m.prefix, userID)
}

func (m *Mirror) Connected(ctx context.Context, userID int64, connID string) error {
	if m == nil || m.client == nil {
		return nil
	}
	key := m.connKey(userID)
	if err := m.client.SAdd(ctx, key, connID).Err(); err != nil {
		return err
	}
	m.client.Expire(ctx, key, m.ttl)
	return m.setStatus(ctx, userID, "online")
}

func (m *Mirror) Disconnected(ctx context.Context, userID int64, connID string) error {
	if m == nil || m.client == nil {
		return nil
	}
	key := m.connKey(userID)
	if err := m.client.SRem(ctx, key, connID).Err(); err != nil {
		return err
	}
	left, err := m.client.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if left == 0 {
		return m.setStatus(ctx, userID, "offline")
	}
	return nil
}

func (m *Mirror) setStatus(ctx context.Context, userID int64, status string) error {
	b, _ := json.Marshal(Status{Status: status, LastSeen: time.Now().Unix()})
	return m.client.Set(ctx, m.presenceKey(userID), b, m.ttl).Err()
}

// Get reads the mirrored status, "offline" when nothing is recorded.
func (m *Mirror) Get(ctx context.Context, userID int64) (Status, error) {
	out := Status{Status: "offline"}
	if m == nil || m.client == nil {
		return out, nil
	}
	b, err := m.client.Get(ctx, m.presenceKey(userID)).Bytes()
	if err == redis.Nil {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return Status{Status: "offline"}, err
	}
	return out, nil
}
