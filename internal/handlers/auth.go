package handlers

import (
	"chatsync/internal/models"
	"chatsync/internal/services"

	"github.com/gofiber/fiber/v2"
)

func RegisterHandler(userService *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		user, err := userService.Register(c.Context(), req)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(user)
	}
}

func LoginHandler(userService *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		res, err := userService.Login(c.Context(), req)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	}
}

// RefreshHandler exchanges a refresh token for a new token pair.
func RefreshHandler(userService *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request")
		}
		if body.RefreshToken == "" {
			return badRequest(c, "refresh_token required")
		}
		res, err := userService.Refresh(c.Context(), body.RefreshToken)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	}
}
