package chat

import (
	"context"
	"log/slog"
	"sync"

	"chatsync/internal/auth"
	"chatsync/internal/logger"
	"chatsync/internal/models"
)

// Directory lists the signed-in user's conversations, e.g. client.ListConversations
// bound to the session token.
type Directory func(ctx context.Context) ([]models.Conversation, error)

type InboxOption func(*Inbox)

// WithDirectory resolves conversations the store has not cached yet, so an
// unread badge gets its peer as soon as the first message arrives.
func WithDirectory(dir Directory) InboxOption {
	return func(in *Inbox) { in.dir = dir }
}

func WithInboxLogger(l *slog.Logger) InboxOption {
	return func(in *Inbox) { in.log = l }
}

// Inbox applies every new_message event to the store, which is what drives
// unread badges. Messages of the active conversation land too; the id dedupe
// makes the Thread's own apply a no-op, and nothing is lost while a Thread
// switches conversations.
type Inbox struct {
	store *Store
	auth  auth.Provider
	dir   Directory
	log   *slog.Logger
	unsub func()

	mu         sync.Mutex
	closed     bool
	refreshing bool
	bg         sync.WaitGroup
}

func NewInbox(store *Store, tr Transport, provider auth.Provider, opts ...InboxOption) *Inbox {
	in := &Inbox{store: store, auth: provider, log: logger.Log}
	for _, opt := range opts {
		opt(in)
	}
	in.unsub = tr.On(models.EventNewMessage, in.handleNewMessage)
	return in
}

func (in *Inbox) handleNewMessage(ev models.Event) {
	if ev.Message == nil {
		return
	}
	msg := *ev.Message
	if msg.ConversationID == "" {
		msg.ConversationID = ev.ConversationID
	}
	if msg.ConversationID == "" {
		return
	}
	if !in.store.AddMessage(msg, in.auth.UserID()) {
		return
	}
	if _, known := in.store.Conversation(msg.ConversationID); !known {
		in.resolve()
	}
}

// resolve refreshes the conversation list in the background. Only one
// refresh runs at a time.
func (in *Inbox) resolve() {
	if in.dir == nil {
		return
	}
	in.mu.Lock()
	if in.closed || in.refreshing {
		in.mu.Unlock()
		return
	}
	in.refreshing = true
	in.bg.Add(1)
	in.mu.Unlock()

	go func() {
		defer in.bg.Done()
		defer func() {
			in.mu.Lock()
			in.refreshing = false
			in.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		convs, err := in.dir(ctx)
		if err != nil {
			in.log.Warn("conversation list refresh failed", "error", err)
			return
		}
		for _, c := range convs {
			in.store.PutConversation(c)
		}
	}()
}

// Close stops applying events and waits for a running refresh.
func (in *Inbox) Close() {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.closed = true
	unsub := in.unsub
	in.unsub = nil
	in.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	in.bg.Wait()
}
