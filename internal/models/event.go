package models

// Realtime event names
const (
	// server -> client
	EventConnected         = "connected"
	EventNewMessage        = "new_message"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventMessagesRead      = "messages_read"
	EventError             = "error"

	// client -> server
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
)

// Event is the websocket envelope shared by both directions.
type Event struct {
	Event          string   `json:"event"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Message        *Message `json:"message,omitempty"`
	// UserID is the actor: the typist, or the reader for messages_read
	UserID     string `json:"user_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}
