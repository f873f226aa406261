package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/yourorg/pairchat/internal/apperr"
)

// fail translates service errors into status codes. Anything that is not
// one of the known classes is a 500 with a generic body.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrWindowExpired):
		status = fiber.StatusBadRequest
	case errors.Is(err, apperr.ErrForbidden):
		status = fiber.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, apperr.ErrAlreadyDeleted):
		status = fiber.StatusConflict
	}
	if status == fiber.StatusInternalServerError {
		s.log.Errorw("request failed", "path", c.Path(), "err", err)
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
