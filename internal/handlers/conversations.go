package handlers

import (
	"time"

	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/services"

	"github.com/gofiber/fiber/v2"
)

func ListConversationsHandler(chatService *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		convs, err := chatService.ListConversations(c.Context(), currentUserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(convs)
	}
}

// CreateConversationHandler returns the direct conversation with peer_id,
// creating it on first contact.
func CreateConversationHandler(chatService *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.CreateConversationRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		if req.PeerID == "" {
			return badRequest(c, "peer_id required")
		}
		res, err := chatService.GetOrCreateDirectConversation(c.Context(), currentUserID(c), req.PeerID)
		if err != nil {
			return respondError(c, err)
		}
		status := fiber.StatusOK
		if res.IsNew {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(res)
	}
}

func ListMessagesHandler(chatService *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		msgs, err := chatService.History(c.Context(), c.Params("id"), currentUserID(c), c.QueryInt("limit", services.HistoryLimit))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(msgs)
	}
}

// SendMessageHandler persists a message and pushes it as new_message to the
// room and to participants online elsewhere.
func SendMessageHandler(chatService *services.ChatService, hub *Hub, m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.SendMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		conversationID := c.Params("id")
		msg, participants, err := chatService.SendMessage(c.Context(), conversationID, currentUserID(c), req)
		if err != nil {
			return respondError(c, err)
		}
		m.MessagesSent.Inc()

		hub.Publish(conversationID, participants, models.Event{
			Event:          models.EventNewMessage,
			ConversationID: conversationID,
			Message:        msg,
			UserID:         msg.SenderID,
			Timestamp:      msg.CreatedAt.UnixMilli(),
		})
		return c.Status(fiber.StatusCreated).JSON(msg)
	}
}

func MarkReadHandler(chatService *services.ChatService, hub *Hub) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID := c.Params("id")
		reader := currentUserID(c)
		updated, err := chatService.MarkRead(c.Context(), conversationID, reader)
		if err != nil {
			return respondError(c, err)
		}
		if updated > 0 {
			participants, err := chatService.Participants(c.Context(), conversationID, reader)
			if err != nil {
				return respondError(c, err)
			}
			hub.Publish(conversationID, participants, models.Event{
				Event:          models.EventMessagesRead,
				ConversationID: conversationID,
				UserID:         reader,
				Timestamp:      time.Now().UnixMilli(),
			})
		}
		return c.JSON(models.MarkReadResponse{ConversationID: conversationID, Updated: updated})
	}
}
