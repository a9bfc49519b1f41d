package handlers

import (
	"errors"

	"chatsync/internal/logger"
	"chatsync/internal/services"

	"github.com/gofiber/fiber/v2"
)

// respondError maps service errors to HTTP responses in one place.
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrForbidden):
		status = fiber.StatusForbidden
	case errors.Is(err, services.ErrUserExists):
		status = fiber.StatusConflict
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrInvalidToken):
		status = fiber.StatusUnauthorized
	case errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrInvalidPeer),
		errors.Is(err, services.ErrInvalidRequest):
		status = fiber.StatusBadRequest
	}

	if status == fiber.StatusInternalServerError {
		logger.Log.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(status).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
