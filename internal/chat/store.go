package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"chatsync/internal/auth"
	"chatsync/internal/logger"
	"chatsync/internal/models"

	"github.com/google/uuid"
)

type ChangeKind int

const (
	ChangeConversations ChangeKind = iota
	ChangeMessages
	ChangeTyping
	ChangeUnread
	ChangeActive
	ChangeReset
	// ChangeNewMessage follows the ChangeMessages of an inserted message and carries it
	ChangeNewMessage
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeConversations:
		return "conversations"
	case ChangeMessages:
		return "messages"
	case ChangeTyping:
		return "typing"
	case ChangeUnread:
		return "unread"
	case ChangeActive:
		return "active"
	case ChangeReset:
		return "reset"
	case ChangeNewMessage:
		return "new_message"
	}
	return "unknown"
}

// Change tells subscribers which slice of state moved.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	// Message is set for ChangeNewMessage only
	Message *models.Message
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithOptimisticSend shows sends immediately as pending entries with a temporary id.
func WithOptimisticSend() Option {
	return func(s *Store) { s.optimistic = true }
}

// WithClock overrides the time source used for pending echoes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the single source of truth for conversation state shown to the
// user. All mutations go through its methods and are serialized by one lock;
// readers get copies.
type Store struct {
	api        API
	auth       auth.Provider
	log        *slog.Logger
	optimistic bool
	now        func() time.Time

	mu sync.Mutex
	// epoch advances on Reset so in-flight results from an old session are dropped
	epoch         uint64
	active        string
	conversations map[string]models.Conversation
	order         []string
	messages      map[string][]models.Message
	typing        map[string]map[string]struct{}
	unread        map[string]int

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

func NewStore(api API, provider auth.Provider, opts ...Option) *Store {
	s := &Store{
		api:  api,
		auth: provider,
		log:  logger.Log,
		now:  time.Now,
		subs: make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clearLocked()
	return s
}

func (s *Store) clearLocked() {
	s.active = ""
	s.conversations = make(map[string]models.Conversation)
	s.order = nil
	s.messages = make(map[string][]models.Message)
	s.typing = make(map[string]map[string]struct{})
	s.unread = make(map[string]int)
}

// Subscribe registers fn for every change. fn runs outside the store lock
// and may call back into the store.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) emit(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

func (s *Store) token() (string, error) {
	token := s.auth.Token()
	if token == "" {
		return "", ErrAuthRequired
	}
	return token, nil
}

func (s *Store) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// GetOrCreateConversation returns the conversation with peerID, asking the
// server only when it is not cached yet.
func (s *Store) GetOrCreateConversation(ctx context.Context, peerID string) (*models.Conversation, error) {
	token, err := s.token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	epoch := s.epoch
	for _, id := range s.order {
		if c := s.conversations[id]; c.Peer.ID == peerID {
			s.mu.Unlock()
			return &c, nil
		}
	}
	s.mu.Unlock()

	conv, err := s.api.GetOrCreateConversation(ctx, token, peerID)
	if err != nil {
		return nil, fmt.Errorf("%w: get or create conversation with %s: %w", ErrFetch, peerID, err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil, ErrStale
	}
	s.putConversationLocked(*conv)
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeConversations, ConversationID: conv.ID})
	out := *conv
	return &out, nil
}

// PutConversation caches a conversation record obtained elsewhere, e.g. a conversation list.
func (s *Store) PutConversation(conv models.Conversation) {
	s.mu.Lock()
	s.putConversationLocked(conv)
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeConversations, ConversationID: conv.ID})
}

func (s *Store) putConversationLocked(conv models.Conversation) {
	if _, ok := s.conversations[conv.ID]; !ok {
		s.order = append(s.order, conv.ID)
	}
	s.conversations[conv.ID] = conv
}

// FetchMessages merges the server history for conversationID into the store.
// Messages pushed over the socket while the request was in flight are kept.
func (s *Store) FetchMessages(ctx context.Context, conversationID string) error {
	token, err := s.token()
	if err != nil {
		return err
	}

	s.mu.Lock()
	epoch := s.epoch
	wasActive := s.active == conversationID
	s.mu.Unlock()

	history, err := s.api.ListMessages(ctx, token, conversationID)
	if err != nil {
		return fmt.Errorf("%w: list messages of %s: %w", ErrFetch, conversationID, err)
	}
	for i := range history {
		if history[i].ConversationID == "" {
			history[i].ConversationID = conversationID
		}
	}

	s.mu.Lock()
	if s.epoch != epoch || (wasActive && s.active != conversationID) {
		s.mu.Unlock()
		s.log.Debug("dropping stale history", "conversation", conversationID)
		return ErrStale
	}
	s.messages[conversationID] = mergeMessages(s.messages[conversationID], history)
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeMessages, ConversationID: conversationID})
	return nil
}

// AddMessage inserts msg unless its id is already present and reports whether
// it was inserted. A new message from someone other than localUserID into a
// conversation that is not active bumps the unread counter.
func (s *Store) AddMessage(msg models.Message, localUserID string) bool {
	s.mu.Lock()
	inserted, changes := s.addLocked(msg, localUserID)
	s.mu.Unlock()

	s.emit(changes...)
	return inserted
}

func (s *Store) addLocked(msg models.Message, localUserID string) (bool, []Change) {
	if msg.ID == "" || msg.ConversationID == "" {
		return false, nil
	}
	id := msg.ConversationID
	list := s.messages[id]

	if i := indexOf(list, msg.ID); i >= 0 {
		if msg.Read && !list[i].Read {
			list[i].Read = true
			return false, []Change{{Kind: ChangeMessages, ConversationID: id}}
		}
		return false, nil
	}

	s.messages[id] = mergeMessages(list, []models.Message{msg})
	changes := []Change{{Kind: ChangeMessages, ConversationID: id}}

	replacedEcho := msg.ClientID != "" && indexOf(list, msg.ClientID) >= 0
	if !replacedEcho {
		added := msg
		changes = append(changes, Change{Kind: ChangeNewMessage, ConversationID: id, Message: &added})
	}
	if !msg.Pending && !replacedEcho && msg.SenderID != localUserID && id != s.active {
		s.unread[id]++
		changes = append(changes, Change{Kind: ChangeUnread, ConversationID: id})
	}
	return true, changes
}

// SendMessage persists content and adds the server-confirmed record. On
// failure nothing is left behind in the store.
func (s *Store) SendMessage(ctx context.Context, conversationID, content, localUserID string) (*models.Message, error) {
	token, err := s.token()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	epoch := s.currentEpoch()

	var tempID string
	if s.optimistic {
		tempID = "tmp-" + uuid.NewString()
		echo := models.Message{
			ID:             tempID,
			ConversationID: conversationID,
			SenderID:       localUserID,
			Content:        content,
			CreatedAt:      s.now(),
			ClientID:       tempID,
			Pending:        true,
		}
		s.AddMessage(echo, localUserID)
	}

	msg, err := s.api.SendMessage(ctx, token, conversationID, content, tempID)
	if err != nil {
		if tempID != "" {
			s.removePending(conversationID, tempID)
		}
		return nil, fmt.Errorf("%w: %w", ErrSend, err)
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return msg, nil
	}
	changes := s.dropPendingLocked(conversationID, tempID)
	_, added := s.addLocked(*msg, localUserID)
	s.mu.Unlock()

	s.emit(append(changes, added...)...)
	return msg, nil
}

func (s *Store) removePending(conversationID, tempID string) {
	s.mu.Lock()
	changes := s.dropPendingLocked(conversationID, tempID)
	s.mu.Unlock()
	s.emit(changes...)
}

func (s *Store) dropPendingLocked(conversationID, tempID string) []Change {
	if tempID == "" {
		return nil
	}
	list := s.messages[conversationID]
	i := indexOf(list, tempID)
	if i < 0 || !list[i].Pending {
		return nil
	}
	s.messages[conversationID] = append(list[:i:i], list[i+1:]...)
	return []Change{{Kind: ChangeMessages, ConversationID: conversationID}}
}

// MarkAsRead tells the server the peer's messages were read, flips them locally
// and zeroes the unread counter.
func (s *Store) MarkAsRead(ctx context.Context, conversationID string) error {
	token, err := s.token()
	if err != nil {
		return err
	}
	epoch := s.currentEpoch()

	if err := s.api.MarkRead(ctx, token, conversationID); err != nil {
		return fmt.Errorf("%w: mark %s read: %w", ErrFetch, conversationID, err)
	}

	local := s.auth.UserID()
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrStale
	}
	peer := s.conversations[conversationID].Peer.ID
	list := s.messages[conversationID]
	for i := range list {
		fromPeer := list[i].SenderID != local
		if local == "" {
			// without a local id only the cached peer's messages are known to be theirs
			fromPeer = peer != "" && list[i].SenderID == peer
		}
		if fromPeer {
			list[i].Read = true
		}
	}
	s.unread[conversationID] = 0
	s.mu.Unlock()

	s.emit(
		Change{Kind: ChangeMessages, ConversationID: conversationID},
		Change{Kind: ChangeUnread, ConversationID: conversationID},
	)
	return nil
}

func (s *Store) SetTyping(conversationID, userID string, isTyping bool) {
	s.mu.Lock()
	set := s.typing[conversationID]
	_, present := set[userID]
	switch {
	case isTyping && !present:
		if set == nil {
			set = make(map[string]struct{})
			s.typing[conversationID] = set
		}
		set[userID] = struct{}{}
	case !isTyping && present:
		delete(set, userID)
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeTyping, ConversationID: conversationID})
}

// ClearTyping forgets every typist of a conversation, used after a reconnect
// since stop events may have been missed.
func (s *Store) ClearTyping(conversationID string) {
	s.mu.Lock()
	n := len(s.typing[conversationID])
	delete(s.typing, conversationID)
	s.mu.Unlock()

	if n > 0 {
		s.emit(Change{Kind: ChangeTyping, ConversationID: conversationID})
	}
}

// UpdateMessageReadStatus applies a remote read receipt: the local user's
// messages in the conversation become read. Receipts from the local user are ignored.
func (s *Store) UpdateMessageReadStatus(conversationID, readerUserID string) {
	local := s.auth.UserID()
	if readerUserID == "" || readerUserID == local {
		return
	}

	s.mu.Lock()
	changed := false
	list := s.messages[conversationID]
	for i := range list {
		mine := list[i].SenderID == local
		if local == "" {
			mine = list[i].SenderID != readerUserID
		}
		if mine && !list[i].Read && !list[i].Pending {
			list[i].Read = true
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.emit(Change{Kind: ChangeMessages, ConversationID: conversationID})
	}
}

// SetActive marks the conversation the user is looking at, replacing the
// previous one in a single step. Messages arriving for it do not count as unread.
func (s *Store) SetActive(conversationID string) {
	s.mu.Lock()
	if s.active == conversationID {
		s.mu.Unlock()
		return
	}
	s.active = conversationID
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeActive, ConversationID: conversationID})
}

// ReleaseActive clears the active conversation if it is still conversationID.
func (s *Store) ReleaseActive(conversationID string) {
	s.mu.Lock()
	if s.active != conversationID {
		s.mu.Unlock()
		return
	}
	s.active = ""
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeActive})
}

func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Reset evicts all state. Called on sign-out.
func (s *Store) Reset() {
	s.mu.Lock()
	s.epoch++
	s.clearLocked()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeReset})
}

// Conversations lists known conversations in the order they were first seen.
func (s *Store) Conversations() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.conversations[id])
	}
	return out
}

func (s *Store) Conversation(conversationID string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	return c, ok
}

// Messages returns a copy of the conversation's ordered message list.
func (s *Store) Messages(conversationID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[conversationID]
	out := make([]models.Message, len(list))
	copy(out, list)
	return out
}

// TypingUsers returns the ids currently typing in the conversation, sorted.
func (s *Store) TypingUsers(conversationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.typing[conversationID]))
	for id := range s.typing[conversationID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Unread(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[conversationID]
}

func (s *Store) UnreadCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.unread))
	for id, n := range s.unread {
		if n > 0 {
			out[id] = n
		}
	}
	return out
}
