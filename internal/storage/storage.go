// Package storage defines the persistence boundary of the chat backend.
package storage

import (
	"context"
	"errors"
	"time"

	"chatsync/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// ConversationRecord is a stored direct conversation and its two participants.
type ConversationRecord struct {
	ID           string
	Participants []string
	CreatedAt    time.Time
}

// Peer returns the participant that is not userID.
func (r ConversationRecord) Peer(userID string) string {
	for _, p := range r.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

func (r ConversationRecord) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

type Repository interface {
	// CreateUser fails with ErrConflict when the username is taken.
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateAvatar(ctx context.Context, userID, avatar string) error

	// FindDirectConversation returns ErrNotFound when the pair has no conversation yet.
	FindDirectConversation(ctx context.Context, userA, userB string) (*ConversationRecord, error)
	// CreateDirectConversation stores rec unless the pair already has one, in
	// which case the existing record is returned with created=false.
	CreateDirectConversation(ctx context.Context, rec ConversationRecord) (existing *ConversationRecord, created bool, err error)
	GetConversation(ctx context.Context, id string) (*ConversationRecord, error)
	ListConversations(ctx context.Context, userID string) ([]ConversationRecord, error)

	SaveMessage(ctx context.Context, m *models.Message) error
	// ListMessages returns the newest limit messages in ascending order.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	// MarkRead flips every unread message in the conversation not sent by readerID.
	MarkRead(ctx context.Context, conversationID, readerID string) (int, error)

	Close()
}
