package chat

import (
	"context"

	"chatsync/internal/models"
)

// API is the REST collaborator. Every call carries the caller's bearer token.
type API interface {
	GetOrCreateConversation(ctx context.Context, token, peerID string) (*models.Conversation, error)
	ListMessages(ctx context.Context, token, conversationID string) ([]models.Message, error)
	// SendMessage persists content; clientID, when set, is echoed on the returned message.
	SendMessage(ctx context.Context, token, conversationID, content, clientID string) (*models.Message, error)
	MarkRead(ctx context.Context, token, conversationID string) error
}

// Transport is the shared realtime connection as seen by the chat core.
type Transport interface {
	JoinConversation(conversationID string) error
	LeaveConversation(conversationID string) error
	On(event string, handler func(models.Event)) (unsubscribe func())
	OnReconnect(fn func()) (unsubscribe func())
	EmitTypingStart(conversationID, receiverID string) error
	EmitTypingStop(conversationID, receiverID string) error
}
