package delivery

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourorg/pairchat/internal/hub"
)

// RedisBridge relays events between instances over a pub/sub channel so a
// recipient connected to a sibling process still gets the push. Each
// instance tags its messages with its own id and skips them on receipt.
type RedisBridge struct {
	client   *redis.Client
	channel  string
	instance string
	hub      *hub.Hub
	log      *zap.SugaredLogger
}

type bridgeFrame struct {
	Instance string    `json:"instance"`
	UserIDs  []int64   `json:"user_ids,omitempty"` // empty means all connected
	Event    hub.Event `json:"event"`
}

func NewRedisBridge(client *redis.Client, prefix string, h *hub.Hub, log *zap.SugaredLogger) *RedisBridge {
	return &RedisBridge{
		client:   client,
		channel:  prefix + ":events",
		instance: uuid.NewString(),
		hub:      h,
		log:      log,
	}
}

func (b *RedisBridge) Publish(ctx context.Context, userIDs []int64, ev hub.Event) error {
	frame := bridgeFrame{Instance: b.instance, UserIDs: userIDs, Event: ev}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Run consumes the channel until ctx is cancelled, re-broadcasting remote
// events to locally connected sessions.
func (b *RedisBridge) Run(ctx context.Context) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame bridgeFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				b.log.Warnw("bridge frame decode failed", "err", err)
				continue
			}
			if frame.Instance == b.instance {
				continue
			}
			raw, err := frame.Event.Marshal()
			if err != nil {
				continue
			}
			if len(frame.UserIDs) == 0 {
				b.hub.BroadcastToAll(frame.Event)
				continue
			}
			for _, id := range frame.UserIDs {
				b.hub.DeliverRaw(id, raw)
			}
		}
	}
}
