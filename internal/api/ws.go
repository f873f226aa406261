package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/yourorg/pairchat/internal/hub"
	"github.com/yourorg/pairchat/internal/metrics"
)

const (
	wsReadLimit    = 32 * 1024
	wsPongWait     = 60 * time.Second
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// clientFrame is the only thing we accept from the socket. Everything that
// mutates state goes through the REST API; the socket is for receiving,
// plus typing passthrough.
type clientFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// handleWS authenticates the upgrade, registers the session with the hub
// and runs the pumps until either side goes away. Presence transitions are
// announced from here because this is the only place sessions appear and
// disappear.
func (s *Server) handleWS() func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		token := conn.Query("token")
		if token == "" {
			_ = conn.Close()
			return
		}
		uid, err := parseToken(token, []byte(s.jwtSecret))
		if err != nil {
			_ = conn.Close()
			return
		}

		connID := uuid.NewString()
		client := hub.NewClient(uid, connID)
		s.hub.Register(client)
		metrics.LiveConnections.Inc()

		ctx := context.Background()
		if wentOnline := s.tracker.Connect(uid, connID); wentOnline {
			s.notifier.PresenceChanged(ctx, uid, true)
		}
		if err := s.mirror.Connected(ctx, uid, connID); err != nil {
			s.log.Warnw("presence mirror connect failed", "user", uid, "err", err)
		}

		done := make(chan struct{})
		go s.writePump(conn, client, done)
		s.readPump(conn, uid)

		close(done)
		s.hub.Unregister(client)
		metrics.LiveConnections.Dec()
		if wentOffline := s.tracker.Disconnect(uid, connID); wentOffline {
			s.notifier.PresenceChanged(ctx, uid, false)
		}
		if err := s.mirror.Disconnected(ctx, uid, connID); err != nil {
			s.log.Warnw("presence mirror disconnect failed", "user", uid, "err", err)
		}
		if err := s.users.TouchLastActive(ctx, uid, time.Now().UTC()); err != nil {
			s.log.Debugw("last active update failed", "user", uid, "err", err)
		}
	}
}

func (s *Server) readPump(conn *websocket.Conn, uid int64) {
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			// garbage from the client is dropped, not fatal
			continue
		}
		if frame.Type == hub.EventTyping && frame.ConversationID != "" {
			s.relayTyping(uid, frame.ConversationID)
		}
	}
}

// relayTyping forwards a typing notice to the peer without persisting
// anything. Membership is still checked so sessions cannot probe foreign
// conversations.
func (s *Server) relayTyping(uid int64, convID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conv, err := s.convStore.GetByID(ctx, convID)
	if err != nil || !conv.HasParticipant(uid) {
		return
	}
	s.hub.BroadcastToUser(conv.PeerOf(uid), hub.Event{
		Type:    hub.EventTyping,
		Payload: map[string]any{"conversation_id": convID, "user_id": uid},
	})
}

func (s *Server) writePump(conn *websocket.Conn, client *hub.Client, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.Out():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
