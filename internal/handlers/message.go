package handlers

import (
	"context"
	"errors"
	"time"

	"chatsync/internal/logger"
	"chatsync/internal/models"
	"chatsync/internal/services"
	"chatsync/internal/utils"

	"github.com/gofiber/websocket/v2"
)

const eventTimeout = 5 * time.Second

// HandleMessage applies one inbound websocket frame from client.
func HandleMessage(hub *Hub, chatService *services.ChatService, client *Client, msgType int, msg []byte) {
	if msgType != websocket.TextMessage {
		return
	}

	var ev models.Event
	if err := utils.SafeJSONParse(msg, &ev); err != nil {
		utils.LogError(err, "JSON Parse")
		hub.metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return
	}
	if ev.ConversationID == "" {
		hub.metrics.EventsDropped.WithLabelValues("no_conversation").Inc()
		return
	}

	switch ev.Event {
	case models.EventJoinConversation:
		handleJoin(hub, chatService, client, ev.ConversationID)
	case models.EventLeaveConversation:
		hub.Leave(ev.ConversationID, client.ID)
	case models.EventTypingStart:
		handleTyping(hub, client, ev.ConversationID, models.EventUserTyping)
	case models.EventTypingStop:
		handleTyping(hub, client, ev.ConversationID, models.EventUserStoppedTyping)
	default:
		logger.Log.Debug("unknown websocket event", "event", ev.Event, "conn", client.ID)
		hub.metrics.EventsDropped.WithLabelValues("unknown").Inc()
	}
}

func handleJoin(hub *Hub, chatService *services.ChatService, client *Client, conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if _, err := chatService.Participants(ctx, conversationID, client.UserID); err != nil {
		reason := "join failed"
		if errors.Is(err, services.ErrForbidden) || errors.Is(err, services.ErrNotFound) {
			reason = "conversation not available"
		}
		_ = client.Send(models.Event{
			Event:          models.EventError,
			ConversationID: conversationID,
			Error:          reason,
			Timestamp:      time.Now().UnixMilli(),
		})
		return
	}
	hub.Join(conversationID, client.ID)
}

func handleTyping(hub *Hub, client *Client, conversationID, event string) {
	if !hub.InRoom(conversationID, client.ID) {
		hub.metrics.EventsDropped.WithLabelValues("not_joined").Inc()
		return
	}
	// stops are never dropped so a peer's indicator cannot get stuck on
	if event == models.EventUserTyping && !client.Allow() {
		hub.metrics.EventsDropped.WithLabelValues("rate_limited").Inc()
		return
	}
	hub.Broadcast(conversationID, models.Event{
		Event:          event,
		ConversationID: conversationID,
		UserID:         client.UserID,
		Timestamp:      time.Now().UnixMilli(),
	}, client.ID)
}
