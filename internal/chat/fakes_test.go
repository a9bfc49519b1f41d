package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/auth"
	"chatsync/internal/models"
)

var (
	t0      = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	errDown = errors.New("connection refused")
)

func at(d time.Duration) time.Time { return t0.Add(d) }

func mkMsg(id, conv, sender string, ts time.Time) models.Message {
	return models.Message{ID: id, ConversationID: conv, SenderID: sender, Content: "text " + id, CreatedAt: ts}
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

var alice = auth.Static{BearerToken: "tok-alice", ID: "alice"}

// fakeAPI answers from in-memory fixtures. listGate, when set, blocks
// ListMessages until it is closed so tests can interleave socket events.
type fakeAPI struct {
	mu        sync.Mutex
	convs     map[string]models.Conversation // by peer
	history   map[string][]models.Message
	listErr   error
	sendErr   error
	markErr   error
	listGate  chan struct{}
	listCalls int
	markCalls int
	sent      []models.SendMessageRequest
	nextID    int
	tokens    []string
	// sendHook runs inside SendMessage before the response is returned
	sendHook func(m models.Message)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		convs:   make(map[string]models.Conversation),
		history: make(map[string][]models.Message),
	}
}

func (f *fakeAPI) GetOrCreateConversation(ctx context.Context, token, peerID string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	c, ok := f.convs[peerID]
	if !ok {
		c = models.Conversation{ID: "conv-" + peerID, Peer: models.Participant{ID: peerID, Name: peerID}, CreatedAt: t0}
		f.convs[peerID] = c
	}
	return &c, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, token, conversationID string) ([]models.Message, error) {
	f.mu.Lock()
	f.listCalls++
	gate := f.listGate
	err := f.listErr
	out := append([]models.Message(nil), f.history[conversationID]...)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, token, conversationID, content, clientID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, models.SendMessageRequest{Content: content, ClientID: clientID})
	m := models.Message{
		ID:             fmt.Sprintf("srv-%d", f.nextID),
		ConversationID: conversationID,
		SenderID:       alice.ID,
		Content:        content,
		CreatedAt:      at(time.Duration(f.nextID) * time.Minute),
		ClientID:       clientID,
	}
	if f.sendHook != nil {
		f.sendHook(m)
	}
	return &m, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, token, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls++
	return f.markErr
}

func (f *fakeAPI) marks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markCalls
}

type emitted struct {
	Event          string
	ConversationID string
	ReceiverID     string
}

// fakeTransport delivers events synchronously through deliver.
type fakeTransport struct {
	mu        sync.Mutex
	handlers  map[string]map[int]func(models.Event)
	reconnect map[int]func()
	next      int
	joined    []string
	left      []string
	emitted   []emitted
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers:  make(map[string]map[int]func(models.Event)),
		reconnect: make(map[int]func()),
	}
}

func (f *fakeTransport) JoinConversation(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, id)
	return nil
}

func (f *fakeTransport) LeaveConversation(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, id)
	return nil
}

func (f *fakeTransport) On(event string, h func(models.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]func(models.Event))
	}
	id := f.next
	f.next++
	f.handlers[event][id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

func (f *fakeTransport) OnReconnect(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.reconnect[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.reconnect, id)
	}
}

func (f *fakeTransport) EmitTypingStart(conversationID, receiverID string) error {
	return f.emit(models.EventTypingStart, conversationID, receiverID)
}

func (f *fakeTransport) EmitTypingStop(conversationID, receiverID string) error {
	return f.emit(models.EventTypingStop, conversationID, receiverID)
}

func (f *fakeTransport) emit(event, conversationID, receiverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, emitted{Event: event, ConversationID: conversationID, ReceiverID: receiverID})
	return nil
}

func (f *fakeTransport) deliver(ev models.Event) {
	f.mu.Lock()
	var hs []func(models.Event)
	for _, h := range f.handlers[ev.Event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeTransport) fireReconnect() {
	f.mu.Lock()
	var fns []func()
	for _, fn := range f.reconnect {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeTransport) events() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emitted...)
}

func (f *fakeTransport) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.reconnect)
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

func newMessageEvent(m models.Message) models.Event {
	return models.Event{Event: models.EventNewMessage, ConversationID: m.ConversationID, Message: &m}
}
