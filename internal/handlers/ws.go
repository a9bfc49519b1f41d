package handlers

import (
	"strings"
	"time"

	"chatsync/internal/logger"
	"chatsync/internal/models"
	"chatsync/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	localUserID   = "user_id"
	localUsername = "username"
)

// WebSocketHandler handles the websocket connection
func WebSocketHandler(hub *Hub, chatService *services.ChatService) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals(localUserID).(string)
		username, _ := c.Locals(localUsername).(string)

		connID := uuid.NewString()
		client, first := hub.Register(connID, userID, username, c)
		logger.Log.Debug("websocket connected", "conn", connID, "user", userID, "first", first)

		defer func() {
			last := hub.Unregister(connID)
			logger.Log.Debug("websocket disconnected", "conn", connID, "user", userID, "last", last)
			c.Close()
		}()

		_ = client.Send(models.Event{
			Event:     models.EventConnected,
			UserID:    userID,
			Timestamp: time.Now().UnixMilli(),
		})

		for {
			msgType, msg, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Log.Warn("websocket read failed", "conn", connID, "error", err)
				}
				break
			}

			HandleMessage(hub, chatService, client, msgType, msg)
		}
	})
}

// WSUpgradeMiddleware rejects plain HTTP requests to the websocket route
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// AuthMiddleware verifies the access token from the `access_token` query
// parameter or the Authorization header.
func AuthMiddleware(tokens *services.TokenIssuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("access_token")
		if token == "" {
			token = strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing token"})
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}

		c.Locals(localUserID, claims.UserID)
		c.Locals(localUsername, claims.Username)
		return c.Next()
	}
}

func currentUserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}
