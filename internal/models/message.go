package models

import "time"

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
	// ClientID is the temporary id of an optimistic local echo, echoed back by the server
	ClientID string `json:"client_id,omitempty"`
	// Pending marks a local echo that the server has not confirmed yet
	Pending bool `json:"-"`
}

type SendMessageRequest struct {
	Content  string `json:"content"`
	ClientID string `json:"client_id,omitempty"`
}

type MarkReadResponse struct {
	ConversationID string `json:"conversation_id"`
	Updated        int    `json:"updated"`
}
