package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatsync/internal/models"
	"chatsync/internal/storage"

	"github.com/google/uuid"
)

// HistoryLimit caps how many messages a history request returns.
const HistoryLimit = 200

type ChatService struct {
	repo storage.Repository
	now  func() time.Time
}

func NewChatService(repo storage.Repository) *ChatService {
	return &ChatService{repo: repo, now: time.Now}
}

// GetOrCreateDirectConversation returns the conversation between userID and
// peerID, creating it on first contact.
func (s *ChatService) GetOrCreateDirectConversation(ctx context.Context, userID, peerID string) (*models.ConversationResponse, error) {
	if peerID == "" || peerID == userID {
		return nil, ErrInvalidPeer
	}
	peer, err := s.repo.GetUser(ctx, peerID)
	if err != nil {
		return nil, err
	}

	rec, err := s.repo.FindDirectConversation(ctx, userID, peerID)
	if err == nil {
		return &models.ConversationResponse{Conversation: s.view(*rec, peer)}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	rec, created, err := s.repo.CreateDirectConversation(ctx, storage.ConversationRecord{
		ID:           uuid.NewString(),
		Participants: []string{userID, peerID},
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		return nil, err
	}
	return &models.ConversationResponse{Conversation: s.view(*rec, peer), IsNew: created}, nil
}

func (s *ChatService) view(rec storage.ConversationRecord, peer *models.User) models.Conversation {
	return models.Conversation{ID: rec.ID, Peer: peer.AsParticipant(), CreatedAt: rec.CreatedAt}
}

// ListConversations returns userID's conversations seen from their side.
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	recs, err := s.repo.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Conversation, 0, len(recs))
	for _, rec := range recs {
		peer, err := s.repo.GetUser(ctx, rec.Peer(userID))
		if err != nil {
			return nil, err
		}
		out = append(out, s.view(rec, peer))
	}
	return out, nil
}

// Participants returns the members of a conversation userID belongs to.
func (s *ChatService) Participants(ctx context.Context, conversationID, userID string) ([]string, error) {
	rec, err := s.authorize(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return rec.Participants, nil
}

func (s *ChatService) authorize(ctx context.Context, conversationID, userID string) (*storage.ConversationRecord, error) {
	rec, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !rec.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return rec, nil
}

// History returns the most recent messages, oldest first.
func (s *ChatService) History(ctx context.Context, conversationID, userID string, limit int) ([]models.Message, error) {
	if _, err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}
	msgs, err := s.repo.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// SendMessage stores a message from senderID. The returned participants are
// the recipients of the realtime broadcast.
func (s *ChatService) SendMessage(ctx context.Context, conversationID, senderID string, req models.SendMessageRequest) (*models.Message, []string, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, nil, ErrEmptyMessage
	}
	rec, err := s.authorize(ctx, conversationID, senderID)
	if err != nil {
		return nil, nil, err
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        req.Content,
		CreatedAt:      s.now().UTC().Truncate(time.Microsecond),
		ClientID:       req.ClientID,
	}
	if err := s.repo.SaveMessage(ctx, msg); err != nil {
		return nil, nil, err
	}
	return msg, rec.Participants, nil
}

// MarkRead marks the messages readerID received in the conversation as read.
func (s *ChatService) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	if _, err := s.authorize(ctx, conversationID, readerID); err != nil {
		return 0, err
	}
	return s.repo.MarkRead(ctx, conversationID, readerID)
}
