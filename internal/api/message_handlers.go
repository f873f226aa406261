package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/yourorg/pairchat/internal/models"
	"github.com/yourorg/pairchat/internal/service"
)

type sendMessageReq struct {
	ConversationID string                  `json:"conversation_id"`
	PeerID         int64                   `json:"peer_id"`
	Kind           string                  `json:"kind"`
	Content        string                  `json:"content"`
	Location       *models.LocationPayload `json:"location"`
	ReplyToID      string                  `json:"reply_to_id"`
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendMessageReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	m, err := s.msgs.Send(c.Context(), userID(c), service.SendInput{
		ConversationID: req.ConversationID,
		PeerID:         req.PeerID,
		Kind:           models.MessageKind(req.Kind),
		Content:        req.Content,
		Location:       req.Location,
		ReplyToID:      req.ReplyToID,
	})
	if err != nil {
		return s.fail(c, err)
	}
	s.touchLastActive(c)
	return c.Status(fiber.StatusCreated).JSON(m)
}

// GET /conversations/:id/messages?limit=50&before=2025-01-02T15:04:05Z
func (s *Server) listMessages(c *fiber.Ctx) error {
	limit := int64(c.QueryInt("limit", 0))
	var before time.Time
	if v := c.Query("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid before timestamp"})
		}
		before = t
	}
	msgs, err := s.msgs.ListForViewer(c.Context(), c.Params("id"), userID(c), limit, before)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

func (s *Server) listPinned(c *fiber.Ctx) error {
	msgs, err := s.msgs.ListPinned(c.Context(), c.Params("id"), userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

func (s *Server) getMessage(c *fiber.Ctx) error {
	m, err := s.msgs.Get(c.Context(), c.Params("id"), userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(m)
}

type editMessageReq struct {
	Content string `json:"content"`
}

func (s *Server) editMessage(c *fiber.Ctx) error {
	var req editMessageReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	m, err := s.msgs.Edit(c.Context(), c.Params("id"), userID(c), req.Content)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(m)
}

func (s *Server) editHistory(c *fiber.Ctx) error {
	hist, err := s.msgs.EditHistory(c.Context(), c.Params("id"), userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"history": hist})
}

// recallMessage removes a message for both participants.
func (s *Server) recallMessage(c *fiber.Ctx) error {
	if err := s.msgs.Recall(c.Context(), c.Params("id"), userID(c)); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// deleteMessageLocal hides a message for the caller only.
func (s *Server) deleteMessageLocal(c *fiber.Ctx) error {
	if err := s.msgs.SoftDelete(c.Context(), c.Params("id"), userID(c)); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type pinReq struct {
	Pinned bool `json:"pinned"`
}

func (s *Server) pinMessage(c *fiber.Ctx) error {
	var req pinReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	m, err := s.msgs.Pin(c.Context(), c.Params("id"), userID(c), req.Pinned)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(m)
}

type reactReq struct {
	Emoji string `json:"emoji"`
}

func (s *Server) addReaction(c *fiber.Ctx) error {
	var req reactReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := s.msgs.React(c.Context(), c.Params("id"), userID(c), req.Emoji); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "reacted"})
}

func (s *Server) removeReaction(c *fiber.Ctx) error {
	if err := s.msgs.RemoveReaction(c.Context(), c.Params("id"), userID(c)); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) markRead(c *fiber.Ctx) error {
	already, err := s.msgs.MarkRead(c.Context(), c.Params("id"), userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	s.touchLastActive(c)
	return c.JSON(fiber.Map{"read": true, "already_read": already})
}

type forwardReq struct {
	ConversationIDs []string `json:"conversation_ids"`
}

func (s *Server) forwardMessage(c *fiber.Ctx) error {
	var req forwardReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	results, err := s.msgs.Forward(c.Context(), c.Params("id"), userID(c), req.ConversationIDs)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"results": results})
}
