package models

import "time"

// Participant is the other side of a direct conversation
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role,omitempty"`
}

type Conversation struct {
	ID        string      `json:"id"`
	Peer      Participant `json:"peer"`
	CreatedAt time.Time   `json:"created_at"`
}

type CreateConversationRequest struct {
	PeerID string `json:"peer_id"`
}

type ConversationResponse struct {
	Conversation
	IsNew bool `json:"is_new"`
}
