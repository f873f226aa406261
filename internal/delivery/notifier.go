package delivery

import (
	"context"

	"go.uber.org/zap"

	"github.com/yourorg/pairchat/internal/hub"
	"github.com/yourorg/pairchat/internal/models"
)

// Sink is the durable event stream (Kafka in production).
type Sink interface {
	Publish(ctx context.Context, key string, v any) error
}

// Bridge mirrors events to sibling instances (Redis pub/sub in production).
type Bridge interface {
	Publish(ctx context.Context, userIDs []int64, ev hub.Event) error
}

// Notifier is the glue between persisted mutations and the live push. It
// computes the recipient set from the conversation's participants and hands
// the event to the hub. Delivery failures stay here: the originating
// mutation already succeeded and is never rolled back.
type Notifier struct {
	hub    *hub.Hub
	sink   Sink
	bridge Bridge
	log    *zap.SugaredLogger
}

func NewNotifier(h *hub.Hub, sink Sink, bridge Bridge, log *zap.SugaredLogger) *Notifier {
	return &Notifier{hub: h, sink: sink, bridge: bridge, log: log}
}

// ConversationEvent pushes an event to both participants of a conversation.
func (n *Notifier) ConversationEvent(ctx context.Context, conv *models.Conversation, ev hub.Event) {
	ids := conv.ParticipantIDs()
	n.hub.BroadcastToUsers(ids, ev)
	n.mirror(ctx, ids, ev)
}

// UserEvent pushes directly to one user's sessions.
func (n *Notifier) UserEvent(ctx context.Context, userID int64, ev hub.Event) {
	n.hub.BroadcastToUser(userID, ev)
	n.mirror(ctx, []int64{userID}, ev)
}

// PresenceChanged announces an online/offline transition to everyone
// currently connected.
func (n *Notifier) PresenceChanged(ctx context.Context, userID int64, online bool) {
	ev := hub.Event{
		Type:    hub.EventPresenceChanged,
		Payload: map[string]any{"user_id": userID, "online": online},
	}
	n.hub.BroadcastToAll(ev)
	if n.bridge != nil {
		if err := n.bridge.Publish(ctx, nil, ev); err != nil {
			n.log.Warnw("bridge publish failed", "type", ev.Type, "err", err)
		}
	}
}

func (n *Notifier) mirror(ctx context.Context, ids []int64, ev hub.Event) {
	if n.bridge != nil {
		if err := n.bridge.Publish(ctx, ids, ev); err != nil {
			n.log.Warnw("bridge publish failed", "type", ev.Type, "err", err)
		}
	}
	if n.sink != nil {
		if err := n.sink.Publish(ctx, ev.Type, ev); err != nil {
			n.log.Warnw("event sink publish failed", "type", ev.Type, "err", err)
		}
	}
}
