package handlers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatsync/internal/models"
	"chatsync/internal/services"

	"github.com/gofiber/fiber/v2"
)

var avatarExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}

// GetProfileHandler returns the authenticated user's profile
func GetProfileHandler(userService *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := userService.GetProfile(c.Context(), currentUserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(u)
	}
}

// ListUsersHandler lists everyone but the caller with their online status.
func ListUsersHandler(userService *services.UserService, hub *Hub) fiber.Handler {
	return func(c *fiber.Ctx) error {
		self := currentUserID(c)
		users, err := userService.ListUsers(c.Context())
		if err != nil {
			return respondError(c, err)
		}

		resp := make([]models.UserListItem, 0, len(users))
		for i := range users {
			if users[i].ID == self {
				continue
			}
			status := "offline"
			if hub.IsUserOnline(users[i].ID) {
				status = "online"
			}
			resp = append(resp, models.UserListItem{
				Participant: users[i].AsParticipant(),
				Username:    users[i].Username,
				Status:      status,
			})
		}
		return c.JSON(resp)
	}
}

// UploadAvatarHandler stores the multipart file "avatar" under uploadDir and
// makes it the caller's avatar.
func UploadAvatarHandler(userService *services.UserService, uploadDir, baseURL string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := currentUserID(c)

		fileHeader, err := c.FormFile("avatar")
		if err != nil {
			return badRequest(c, "avatar file is required")
		}
		ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
		if !avatarExtensions[ext] {
			return badRequest(c, "unsupported image type")
		}

		if err := os.MkdirAll(uploadDir, 0o755); err != nil {
			return respondError(c, fmt.Errorf("create upload dir: %w", err))
		}
		filename := fmt.Sprintf("%s_%d%s", userID, time.Now().UnixNano(), ext)
		destPath := filepath.Join(uploadDir, filename)
		if err := c.SaveFile(fileHeader, destPath); err != nil {
			return respondError(c, fmt.Errorf("save avatar: %w", err))
		}

		url := "/uploads/" + filename
		if baseURL != "" {
			url = strings.TrimSuffix(baseURL, "/") + url
		}

		u, err := userService.SetAvatar(c.Context(), userID, url)
		if err != nil {
			_ = os.Remove(destPath)
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(u)
	}
}
