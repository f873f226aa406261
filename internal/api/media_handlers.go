package api

import (
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/yourorg/pairchat/internal/models"
	"github.com/yourorg/pairchat/internal/service"
)

// uploadAttachment stores the multipart file and sends it as an image or
// file message in one request. The message is only created after the blob
// made it to the store.
func (s *Server) uploadAttachment(c *fiber.Ctx) error {
	if s.media == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "media uploads are disabled"})
	}
	convID := c.Params("id")
	uid := userID(c)

	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}
	f, err := fh.Open()
	if err != nil {
		return s.fail(c, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return s.fail(c, err)
	}
	contentType := fh.Header.Get("Content-Type")

	kind := models.MessageKind(c.FormValue("kind", string(models.KindFile)))
	in := service.SendInput{ConversationID: convID, Kind: kind}

	switch kind {
	case models.KindVoice:
		voice, err := s.media.UploadVoice(c.Context(), uid, convID, fh.Filename, contentType, data)
		if err != nil {
			return s.fail(c, err)
		}
		in.Voice = voice
	case models.KindImage, models.KindFile:
		payload, err := s.media.UploadAttachment(c.Context(), uid, convID, fh.Filename, contentType, data)
		if err != nil {
			return s.fail(c, err)
		}
		in.Files = []models.FilePayload{*payload}
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "kind must be image, file or voice"})
	}

	m, err := s.msgs.Send(c.Context(), uid, in)
	if err != nil {
		return s.fail(c, err)
	}
	s.touchLastActive(c)
	return c.Status(fiber.StatusCreated).JSON(m)
}
