package api

import (
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/yourorg/pairchat/internal/delivery"
	"github.com/yourorg/pairchat/internal/hub"
	"github.com/yourorg/pairchat/internal/media"
	"github.com/yourorg/pairchat/internal/metrics"
	"github.com/yourorg/pairchat/internal/presence"
	"github.com/yourorg/pairchat/internal/repository"
	"github.com/yourorg/pairchat/internal/service"
)

type Deps struct {
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Media         *media.Service
	Hub           *hub.Hub
	Tracker       *presence.Tracker
	Mirror        *presence.Mirror
	Notifier      *delivery.Notifier
	Users         repository.UserStore
	ConvStore     repository.ConversationStore
	Limiter       *RateLimiter
	JWTSecret     string
	Log           *zap.SugaredLogger
}

type Server struct {
	app       *fiber.App
	convs     *service.ConversationService
	msgs      *service.MessageService
	media     *media.Service
	hub       *hub.Hub
	tracker   *presence.Tracker
	mirror    *presence.Mirror
	notifier  *delivery.Notifier
	users     repository.UserStore
	convStore repository.ConversationStore
	jwtSecret string
	log       *zap.SugaredLogger
}

func NewServer(d Deps) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadBufferSize:        16 * 1024,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{
		app:       app,
		convs:     d.Conversations,
		msgs:      d.Messages,
		media:     d.Media,
		hub:       d.Hub,
		tracker:   d.Tracker,
		mirror:    d.Mirror,
		notifier:  d.Notifier,
		users:     d.Users,
		convStore: d.ConvStore,
		jwtSecret: d.JWTSecret,
		log:       d.Log,
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/v1", JWTAuth(d.JWTSecret))
	if d.Limiter != nil {
		api.Use(d.Limiter.Middleware())
	}

	api.Post("/conversations", s.createConversation)
	api.Get("/conversations", s.listConversations)
	api.Get("/conversations/:id", s.conversationDetails)
	api.Delete("/conversations/:id", s.deleteConversation)
	api.Post("/conversations/:id/block", s.blockUser)
	api.Delete("/conversations/:id/block/:userID", s.unblockUser)
	api.Put("/conversations/:id/mute", s.setMuted)
	api.Put("/conversations/:id/nickname", s.setNickname)
	api.Get("/conversations/:id/messages", s.listMessages)
	api.Get("/conversations/:id/messages/pinned", s.listPinned)
	api.Post("/conversations/:id/attachments", s.uploadAttachment)

	api.Post("/messages", s.sendMessage)
	api.Get("/messages/:id", s.getMessage)
	api.Put("/messages/:id", s.editMessage)
	api.Get("/messages/:id/history", s.editHistory)
	api.Delete("/messages/:id", s.recallMessage)
	api.Delete("/messages/:id/local", s.deleteMessageLocal)
	api.Put("/messages/:id/pin", s.pinMessage)
	api.Post("/messages/:id/reactions", s.addReaction)
	api.Delete("/messages/:id/reactions", s.removeReaction)
	api.Post("/messages/:id/read", s.markRead)
	api.Post("/messages/:id/forward", s.forwardMessage)

	api.Get("/presence/:userID", s.getPresence)

	app.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.handleWS()))

	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// getPresence answers from the local tracker first and falls back to the
// Redis mirror so sessions held by sibling instances still count.
func (s *Server) getPresence(c *fiber.Ctx) error {
	target, err := c.ParamsInt("userID")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid user id"})
	}
	uid := int64(target)
	if s.tracker.IsOnline(uid) {
		return c.JSON(fiber.Map{"user_id": uid, "online": true})
	}
	st, err := s.mirror.Get(c.Context(), uid)
	if err != nil {
		s.log.Warnw("presence mirror read failed", "user", uid, "err", err)
		return c.JSON(fiber.Map{"user_id": uid, "online": false})
	}
	return c.JSON(fiber.Map{
		"user_id":   uid,
		"online":    st.Status == "online",
		"last_seen": st.LastSeen,
	})
}

func (s *Server) touchLastActive(c *fiber.Ctx) {
	if err := s.users.TouchLastActive(c.Context(), userID(c), time.Now().UTC()); err != nil {
		s.log.Debugw("last active update failed", "user", userID(c), "err", err)
	}
}
