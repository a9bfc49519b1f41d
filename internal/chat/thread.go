package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chatsync/internal/auth"
	"chatsync/internal/logger"
	"chatsync/internal/models"
)

// backgroundTimeout bounds requests a thread starts on its own (auto mark-read, resync).
const backgroundTimeout = 10 * time.Second

type ThreadOption func(*Thread)

// WithAutoMarkRead marks the conversation read whenever the peer's message
// lands in the open thread.
func WithAutoMarkRead() ThreadOption {
	return func(t *Thread) { t.autoMarkRead = true }
}

// WithScrollHandler receives the scroll decisions the view should carry out.
func WithScrollHandler(fn func(ScrollAction)) ThreadOption {
	return func(t *Thread) { t.onScroll = fn }
}

func WithTypingOptions(opts ...TypingOption) ThreadOption {
	return func(t *Thread) { t.typingOpts = append(t.typingOpts, opts...) }
}

func WithThreadLogger(l *slog.Logger) ThreadOption {
	return func(t *Thread) { t.log = l }
}

// Thread drives one open chat surface. It keeps the store's view of its
// conversation consistent with history fetched over REST and events pushed
// over the transport, and owns the input box's typing lifecycle.
type Thread struct {
	store *Store
	tr    Transport
	auth  auth.Provider
	log   *slog.Logger

	autoMarkRead bool
	onScroll     func(ScrollAction)
	typingOpts   []TypingOption

	ref    ActiveRef
	typing *TypingIndicator
	scroll ScrollTracker

	mu     sync.Mutex
	conv   models.Conversation
	closed bool
	unsubs []func()
	// bg tracks requests started by event handlers so Close can wait for them
	bg sync.WaitGroup
}

// OpenThread resolves the conversation with peerID, focuses it and joins its
// room. Call Load to fetch the history.
func OpenThread(ctx context.Context, store *Store, tr Transport, provider auth.Provider, peerID string, opts ...ThreadOption) (*Thread, error) {
	if provider.Token() == "" {
		return nil, ErrAuthRequired
	}
	t := &Thread{
		store: store,
		tr:    tr,
		auth:  provider,
		log:   logger.Log,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.typing = NewTypingIndicator(t.emitTypingStart, t.emitTypingStop, t.typingOpts...)

	conv, err := store.GetOrCreateConversation(ctx, peerID)
	if err != nil {
		return nil, err
	}
	t.conv = *conv

	t.unsubs = []func(){
		store.Subscribe(t.handleStoreChange),
		tr.On(models.EventNewMessage, t.handleNewMessage),
		tr.On(models.EventUserTyping, t.handleTyping(true)),
		tr.On(models.EventUserStoppedTyping, t.handleTyping(false)),
		tr.On(models.EventMessagesRead, t.handleMessagesRead),
		tr.OnReconnect(t.resync),
	}
	t.focus(conv.ID)
	return t, nil
}

// focus makes conversationID the store's active conversation before the
// handlers accept its events, so nothing arriving in between counts as unread.
func (t *Thread) focus(conversationID string) {
	t.store.SetActive(conversationID)
	t.ref.Set(conversationID)
	if err := t.tr.JoinConversation(conversationID); err != nil {
		t.log.Warn("join conversation failed", "conversation", conversationID, "error", err)
	}
	t.scrollTo(t.scroll.OnConversationSwitch())
}

// Load fetches the history of the shown conversation. On ErrFetch the thread
// stays usable and Load may be retried; already loaded messages are not duplicated.
func (t *Thread) Load(ctx context.Context) error {
	conv, err := t.current()
	if err != nil {
		return err
	}
	err = t.store.FetchMessages(ctx, conv.ID)
	if errors.Is(err, ErrStale) {
		return nil
	}
	return err
}

// Switch shows the conversation with another peer in this surface and loads
// its history. On ErrFetch the switch itself has happened and Load may be retried.
func (t *Thread) Switch(ctx context.Context, peerID string) error {
	old, err := t.current()
	if err != nil {
		return err
	}
	conv, err := t.store.GetOrCreateConversation(ctx, peerID)
	if err != nil {
		return err
	}
	if conv.ID == old.ID {
		return nil
	}

	t.typing.Stop()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrThreadClosed
	}
	t.conv = *conv
	t.mu.Unlock()

	t.focus(conv.ID)
	if err := t.tr.LeaveConversation(old.ID); err != nil {
		t.log.Warn("leave conversation failed", "conversation", old.ID, "error", err)
	}
	return t.Load(ctx)
}

// Close leaves the room and stops reacting to events. In-flight requests
// finish but their results are discarded.
func (t *Thread) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	unsubs := t.unsubs
	t.unsubs = nil
	conv := t.conv
	t.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	t.typing.Stop()
	t.ref.Set("")
	if err := t.tr.LeaveConversation(conv.ID); err != nil {
		t.log.Warn("leave conversation failed", "conversation", conv.ID, "error", err)
	}
	t.store.ReleaseActive(conv.ID)
	t.bg.Wait()
}

func (t *Thread) current() (models.Conversation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return models.Conversation{}, ErrThreadClosed
	}
	return t.conv, nil
}

// Conversation returns the conversation currently shown.
func (t *Thread) Conversation() models.Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conv
}

// Input feeds the input box content after every keystroke.
func (t *Thread) Input(text string) {
	t.typing.Input(text)
}

func (t *Thread) TypingState() TypingState {
	return t.typing.State()
}

func (t *Thread) Send(ctx context.Context, content string) (*models.Message, error) {
	conv, err := t.current()
	if err != nil {
		return nil, err
	}
	t.typing.Stop()

	return t.store.SendMessage(ctx, conv.ID, content, t.auth.UserID())
}

func (t *Thread) MarkRead(ctx context.Context) error {
	conv, err := t.current()
	if err != nil {
		return err
	}
	return t.store.MarkAsRead(ctx, conv.ID)
}

func (t *Thread) Messages() []models.Message {
	return t.store.Messages(t.ref.Get())
}

func (t *Thread) Timeline() []TimelineItem {
	return BuildTimeline(t.Messages(), t.auth.UserID())
}

// TypingUsers lists the other participants typing in the shown conversation.
func (t *Thread) TypingUsers() []string {
	local := t.auth.UserID()
	users := t.store.TypingUsers(t.ref.Get())
	out := users[:0]
	for _, u := range users {
		if u != local {
			out = append(out, u)
		}
	}
	return out
}

func (t *Thread) OnScroll(offsetFromBottom float64) {
	t.scroll.OnScroll(offsetFromBottom)
}

func (t *Thread) ShowJumpToLatest() bool {
	return t.scroll.ShowJumpToLatest(len(t.Messages()))
}

func (t *Thread) JumpToLatest() {
	t.scrollTo(t.scroll.JumpToLatest())
}

func (t *Thread) scrollTo(a ScrollAction) {
	if a != ScrollNone && t.onScroll != nil {
		t.onScroll(a)
	}
}

func (t *Thread) emitTypingStart() {
	conv := t.Conversation()
	if err := t.tr.EmitTypingStart(conv.ID, conv.Peer.ID); err != nil {
		t.log.Debug("typing start not sent", "conversation", conv.ID, "error", err)
	}
}

func (t *Thread) emitTypingStop() {
	conv := t.Conversation()
	if err := t.tr.EmitTypingStop(conv.ID, conv.Peer.ID); err != nil {
		t.log.Debug("typing stop not sent", "conversation", conv.ID, "error", err)
	}
}

func (t *Thread) handleNewMessage(ev models.Event) {
	if ev.Message == nil || !t.ref.Is(ev.ConversationID) {
		return
	}
	msg := *ev.Message
	if msg.ConversationID == "" {
		msg.ConversationID = ev.ConversationID
	}
	if msg.ConversationID != ev.ConversationID {
		return
	}

	t.store.AddMessage(msg, t.auth.UserID())
}

// handleStoreChange reacts once per message inserted into the shown
// conversation, whichever listener inserted it.
func (t *Thread) handleStoreChange(c Change) {
	if c.Kind != ChangeNewMessage || c.Message == nil || !t.ref.Is(c.ConversationID) {
		return
	}
	msg := *c.Message
	if msg.SenderID == t.auth.UserID() {
		t.scrollTo(t.scroll.OnOwnMessage())
		return
	}

	t.store.SetTyping(msg.ConversationID, msg.SenderID, false)
	t.scrollTo(t.scroll.OnNewMessage())
	if t.autoMarkRead {
		t.background(func(ctx context.Context) {
			if err := t.store.MarkAsRead(ctx, msg.ConversationID); err != nil && !errors.Is(err, ErrStale) {
				t.log.Warn("auto mark read failed", "conversation", msg.ConversationID, "error", err)
			}
		})
	}
}

func (t *Thread) handleTyping(isTyping bool) func(models.Event) {
	return func(ev models.Event) {
		if !t.ref.Is(ev.ConversationID) || ev.UserID == "" || ev.UserID == t.auth.UserID() {
			return
		}
		t.store.SetTyping(ev.ConversationID, ev.UserID, isTyping)
	}
}

func (t *Thread) handleMessagesRead(ev models.Event) {
	if !t.ref.Is(ev.ConversationID) {
		return
	}
	t.store.UpdateMessageReadStatus(ev.ConversationID, ev.UserID)
}

// resync repairs state after the transport reconnected: typing stops may have
// been missed and history may have gaps.
func (t *Thread) resync() {
	id := t.ref.Get()
	if id == "" {
		return
	}
	t.store.ClearTyping(id)
	t.background(func(ctx context.Context) {
		if err := t.store.FetchMessages(ctx, id); err != nil && !errors.Is(err, ErrStale) {
			t.log.Warn("resync history failed", "conversation", id, "error", err)
		}
	})
}

func (t *Thread) background(fn func(ctx context.Context)) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.bg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}
