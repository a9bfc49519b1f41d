// Package memory is an in-process Repository for tests and single-node demos.
package memory

import (
	"context"
	"sort"
	"sync"

	"chatsync/internal/models"
	"chatsync/internal/storage"
)

type Repository struct {
	mu            sync.RWMutex
	users         map[string]models.User
	usernames     map[string]string
	conversations map[string]storage.ConversationRecord
	pairs         map[string]string
	messages      map[string][]models.Message
}

func New() *Repository {
	return &Repository{
		users:         make(map[string]models.User),
		usernames:     make(map[string]string),
		conversations: make(map[string]storage.ConversationRecord),
		pairs:         make(map[string]string),
		messages:      make(map[string][]models.Message),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

func (r *Repository) CreateUser(ctx context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.usernames[u.Username]; ok {
		return storage.ErrConflict
	}
	r.users[u.ID] = *u
	r.usernames[u.Username] = u.ID
	return nil
}

func (r *Repository) GetUser(ctx context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	r.mu.RLock()
	id, ok := r.usernames[username]
	r.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.GetUser(ctx, id)
}

func (r *Repository) ListUsers(ctx context.Context) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (r *Repository) UpdateAvatar(ctx context.Context, userID, avatar string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.Avatar = avatar
	r.users[userID] = u
	return nil
}

func (r *Repository) FindDirectConversation(ctx context.Context, userA, userB string) (*storage.ConversationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.pairs[pairKey(userA, userB)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	rec := r.conversations[id]
	return &rec, nil
}

func (r *Repository) CreateDirectConversation(ctx context.Context, rec storage.ConversationRecord) (*storage.ConversationRecord, bool, error) {
	if len(rec.Participants) != 2 {
		return nil, false, storage.ErrConflict
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey(rec.Participants[0], rec.Participants[1])
	if id, ok := r.pairs[key]; ok {
		existing := r.conversations[id]
		return &existing, false, nil
	}
	rec.Participants = append([]string(nil), rec.Participants...)
	r.conversations[rec.ID] = rec
	r.pairs[key] = rec.ID
	return &rec, true, nil
}

func (r *Repository) GetConversation(ctx context.Context, id string) (*storage.ConversationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

func (r *Repository) ListConversations(ctx context.Context, userID string) ([]storage.ConversationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []storage.ConversationRecord
	for _, rec := range r.conversations {
		if rec.HasParticipant(userID) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Repository) SaveMessage(ctx context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[m.ConversationID]; !ok {
		return storage.ErrNotFound
	}
	list := append(r.messages[m.ConversationID], *m)
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	r.messages[m.ConversationID] = list
	return nil
}

func (r *Repository) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.messages[conversationID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]models.Message, len(list))
	copy(out, list)
	return out, nil
}

func (r *Repository) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	list := r.messages[conversationID]
	for i := range list {
		if list[i].SenderID != readerID && !list[i].Read {
			list[i].Read = true
			n++
		}
	}
	return n, nil
}

func (r *Repository) Close() {}
