package api

import (
	"github.com/gofiber/fiber/v2"
)

type createConversationReq struct {
	PeerID int64 `json:"peer_id"`
}

func (s *Server) createConversation(c *fiber.Ctx) error {
	var req createConversationReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	conv, created, err := s.convs.FindOrCreate(c.Context(), userID(c), req.PeerID)
	if err != nil {
		return s.fail(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(conv)
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	list, err := s.convs.ListVisible(c.Context(), userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"conversations": list})
}

func (s *Server) conversationDetails(c *fiber.Ctx) error {
	det, err := s.convs.Details(c.Context(), c.Params("id"), userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(det)
}

func (s *Server) deleteConversation(c *fiber.Ctx) error {
	if err := s.convs.SoftDelete(c.Context(), c.Params("id"), userID(c)); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type blockReq struct {
	UserID int64 `json:"user_id"`
}

func (s *Server) blockUser(c *fiber.Ctx) error {
	var req blockReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := s.convs.Block(c.Context(), c.Params("id"), userID(c), req.UserID); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "blocked"})
}

func (s *Server) unblockUser(c *fiber.Ctx) error {
	target, err := c.ParamsInt("userID")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid user id"})
	}
	if err := s.convs.Unblock(c.Context(), c.Params("id"), userID(c), int64(target)); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "unblocked"})
}

type muteReq struct {
	Muted bool `json:"muted"`
}

func (s *Server) setMuted(c *fiber.Ctx) error {
	var req muteReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := s.convs.SetMuted(c.Context(), c.Params("id"), userID(c), req.Muted); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"muted": req.Muted})
}

type nicknameReq struct {
	Nickname string `json:"nickname"`
}

func (s *Server) setNickname(c *fiber.Ctx) error {
	var req nicknameReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := s.convs.SetNickname(c.Context(), c.Params("id"), userID(c), req.Nickname); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"nickname": req.Nickname})
}
