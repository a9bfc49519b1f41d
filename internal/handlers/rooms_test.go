package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/services"
	"chatsync/internal/storage/memory"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *recordingConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, v.(models.Event))
	return nil
}

func (c *recordingConn) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Event
	}
	return out
}

func newTestHub() *Hub {
	return NewHub(metrics.New(), 1, 2)
}

func TestHubPresence(t *testing.T) {
	h := newTestHub()

	_, first := h.Register("c1", "alice", "alice", &recordingConn{})
	assert.True(t, first)
	_, first = h.Register("c2", "alice", "alice", &recordingConn{})
	assert.False(t, first)
	assert.True(t, h.IsUserOnline("alice"))

	h.Join("room", "c1")
	assert.True(t, h.IsUserInRoom("alice", "room"))
	assert.True(t, h.InRoom("room", "c1"))
	assert.False(t, h.InRoom("room", "c2"))

	assert.False(t, h.Unregister("c1"))
	assert.False(t, h.IsUserInRoom("alice", "room"))
	assert.True(t, h.Unregister("c2"))
	assert.False(t, h.IsUserOnline("alice"))
	assert.False(t, h.Unregister("c2"))
}

func TestHubBroadcastAndPublish(t *testing.T) {
	h := newTestHub()
	aliceRoom, aliceElsewhere := &recordingConn{}, &recordingConn{}
	bobElsewhere, carol := &recordingConn{}, &recordingConn{}

	h.Register("a1", "alice", "alice", aliceRoom)
	h.Register("a2", "alice", "alice", aliceElsewhere)
	h.Register("b1", "bob", "bob", bobElsewhere)
	h.Register("c1", "carol", "carol", carol)
	h.Join("conv", "a1")

	h.Broadcast("conv", models.Event{Event: models.EventUserTyping}, "a1")
	assert.Empty(t, aliceRoom.names(), "sender is excluded")

	h.Publish("conv", []string{"alice", "bob"}, models.Event{Event: models.EventNewMessage})
	assert.Equal(t, []string{models.EventNewMessage}, aliceRoom.names())
	assert.Equal(t, []string{models.EventNewMessage}, aliceElsewhere.names())
	assert.Equal(t, []string{models.EventNewMessage}, bobElsewhere.names())
	assert.Empty(t, carol.names())
}

type wsFixture struct {
	hub   *Hub
	chat  *services.ChatService
	conv  string
	alice *Client
	bob   *Client
	aConn *recordingConn
	bConn *recordingConn
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()
	users := services.NewUserService(repo, services.NewTokenIssuer("s", time.Hour, time.Hour))
	chat := services.NewChatService(repo)

	a, err := users.Register(ctx, models.RegisterRequest{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	b, err := users.Register(ctx, models.RegisterRequest{Username: "bob", Password: "pw"})
	require.NoError(t, err)
	conv, err := chat.GetOrCreateDirectConversation(ctx, a.ID, b.ID)
	require.NoError(t, err)

	f := &wsFixture{hub: newTestHub(), chat: chat, conv: conv.ID, aConn: &recordingConn{}, bConn: &recordingConn{}}
	f.alice, _ = f.hub.Register("a1", a.ID, "alice", f.aConn)
	f.bob, _ = f.hub.Register("b1", b.ID, "bob", f.bConn)
	return f
}

func (f *wsFixture) send(c *Client, ev models.Event) {
	raw, _ := json.Marshal(ev)
	HandleMessage(f.hub, f.chat, c, websocket.TextMessage, raw)
}

func TestHandleJoinChecksParticipation(t *testing.T) {
	f := newWSFixture(t)
	f.hub.Register("m1", "mallory", "mallory", &recordingConn{})
	mallory := f.hub.clients["m1"]

	f.send(mallory, models.Event{Event: models.EventJoinConversation, ConversationID: f.conv})
	assert.False(t, f.hub.InRoom(f.conv, "m1"))
	assert.Equal(t, []string{models.EventError}, mallory.conn.(*recordingConn).names())

	f.send(f.alice, models.Event{Event: models.EventJoinConversation, ConversationID: f.conv})
	assert.True(t, f.hub.InRoom(f.conv, "a1"))

	f.send(f.alice, models.Event{Event: models.EventLeaveConversation, ConversationID: f.conv})
	assert.False(t, f.hub.InRoom(f.conv, "a1"))
}

func TestHandleTypingRelaysToRoom(t *testing.T) {
	f := newWSFixture(t)
	f.send(f.alice, models.Event{Event: models.EventJoinConversation, ConversationID: f.conv})
	f.send(f.bob, models.Event{Event: models.EventJoinConversation, ConversationID: f.conv})

	f.send(f.alice, models.Event{Event: models.EventTypingStart, ConversationID: f.conv, ReceiverID: f.bob.UserID})
	f.send(f.alice, models.Event{Event: models.EventTypingStop, ConversationID: f.conv, ReceiverID: f.bob.UserID})

	assert.Equal(t, []string{models.EventUserTyping, models.EventUserStoppedTyping}, f.bConn.names())
	assert.Empty(t, f.aConn.names())
	f.bConn.mu.Lock()
	assert.Equal(t, f.alice.UserID, f.bConn.events[0].UserID)
	f.bConn.mu.Unlock()
}

func TestHandleTypingRequiresJoinAndIsRateLimited(t *testing.T) {
	f := newWSFixture(t)
	f.send(f.bob, models.Event{Event: models.EventJoinConversation, ConversationID: f.conv})

	f.send(f.alice, models.Event{Event: models.EventTypingStart, ConversationID: f.conv})
	assert.Empty(t, f.bConn.names(), "typing from outside the room is dropped")

	f.send(f.alice, models.Event{Event: models.EventJoinConversation, ConversationID: f.conv})
	for i := 0; i < 5; i++ {
		f.send(f.alice, models.Event{Event: models.EventTypingStart, ConversationID: f.conv})
	}
	f.send(f.alice, models.Event{Event: models.EventTypingStop, ConversationID: f.conv})

	// burst of 2, then only the stop gets through
	assert.Equal(t, []string{models.EventUserTyping, models.EventUserTyping, models.EventUserStoppedTyping}, f.bConn.names())
}
