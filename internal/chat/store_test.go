package chat

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"chatsync/internal/auth"
	"chatsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAddMessageDedupesAndOrders(t *testing.T) {
	s := NewStore(newFakeAPI(), alice)

	assert.True(t, s.AddMessage(mkMsg("m2", "c1", "bob", at(5*time.Second)), "alice"))
	assert.True(t, s.AddMessage(mkMsg("m1", "c1", "bob", at(0)), "alice"))
	assert.False(t, s.AddMessage(mkMsg("m2", "c1", "bob", at(5*time.Second)), "alice"))

	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages("c1")))
}

func TestStoreAddMessageRejectsIncomplete(t *testing.T) {
	s := NewStore(newFakeAPI(), alice)
	assert.False(t, s.AddMessage(models.Message{ConversationID: "c1"}, "alice"))
	assert.False(t, s.AddMessage(models.Message{ID: "m1"}, "alice"))
	assert.Empty(t, s.Messages("c1"))
}

func TestStoreMergeIsIdempotentUnderAnyInterleaving(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		api := newFakeAPI()
		var all []models.Message
		for i := 0; i < 8; i++ {
			// coarse timestamps so equal CreatedAt values occur
			all = append(all, mkMsg(string(rune('a'+i)), "c1", "bob", at(time.Duration(rng.Intn(4))*time.Second)))
		}
		api.history["c1"] = append([]models.Message(nil), all[:rng.Intn(len(all)+1)]...)
		s := NewStore(api, alice)

		fetchAt := rng.Intn(12)
		for step := 0; step < 12; step++ {
			if step == fetchAt {
				require.NoError(t, s.FetchMessages(context.Background(), "c1"))
			}
			s.AddMessage(all[rng.Intn(len(all))], "alice")
		}

		got := s.Messages("c1")
		seen := map[string]bool{}
		for _, m := range got {
			require.False(t, seen[m.ID], "round %d: duplicate %s", round, m.ID)
			seen[m.ID] = true
		}
		require.True(t, sort.SliceIsSorted(got, func(i, j int) bool {
			return got[i].CreatedAt.Before(got[j].CreatedAt)
		}), "round %d: not sorted", round)
	}
}

func TestStoreSocketRacesAheadOfFetch(t *testing.T) {
	api := newFakeAPI()
	m1 := mkMsg("m1", "c1", "bob", at(0))
	m2 := mkMsg("m2", "c1", "bob", at(5*time.Second))
	m3 := mkMsg("m3", "c1", "bob", at(10*time.Second))
	api.history["c1"] = []models.Message{m1, m2, m3}
	api.listGate = make(chan struct{})

	s := NewStore(api, alice)
	s.SetActive("c1")

	done := make(chan error, 1)
	go func() { done <- s.FetchMessages(context.Background(), "c1") }()

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.listCalls == 1
	}, time.Second, time.Millisecond)

	s.AddMessage(m1, "alice")
	s.AddMessage(m2, "alice")
	close(api.listGate)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(s.Messages("c1")))
}

func TestStoreUnreadAccounting(t *testing.T) {
	s := NewStore(newFakeAPI(), alice)
	s.SetActive("other")

	const n = 4
	for i := 0; i < n; i++ {
		m := mkMsg(string(rune('a'+i)), "c1", "bob", at(time.Duration(i)*time.Second))
		s.AddMessage(m, "alice")
		s.AddMessage(m, "alice") // duplicate delivery
	}
	s.AddMessage(mkMsg("mine", "c1", "alice", at(time.Minute)), "alice")
	assert.Equal(t, n, s.Unread("c1"))
	assert.Equal(t, map[string]int{"c1": n}, s.UnreadCounts())

	require.NoError(t, s.MarkAsRead(context.Background(), "c1"))
	assert.Equal(t, 0, s.Unread("c1"))
	for _, m := range s.Messages("c1") {
		if m.SenderID == "bob" {
			assert.True(t, m.Read, m.ID)
		} else {
			assert.False(t, m.Read, m.ID)
		}
	}
}

func TestStoreActiveConversationDoesNotCountUnread(t *testing.T) {
	s := NewStore(newFakeAPI(), alice)
	for i := 0; i < 3; i++ {
		s.AddMessage(mkMsg(string(rune('a'+i)), "x", "bob", at(time.Duration(i)*time.Second)), "alice")
	}
	s.SetActive("x")
	require.Equal(t, 3, s.Unread("x"))

	require.NoError(t, s.MarkAsRead(context.Background(), "x"))
	assert.Equal(t, 0, s.Unread("x"))

	s.AddMessage(mkMsg("late", "x", "bob", at(time.Minute)), "alice")
	assert.Equal(t, 0, s.Unread("x"))
}

func TestStoreAuthRequired(t *testing.T) {
	api := newFakeAPI()
	s := NewStore(api, auth.Static{ID: "alice"})
	ctx := context.Background()

	_, err := s.GetOrCreateConversation(ctx, "bob")
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.ErrorIs(t, s.FetchMessages(ctx, "c1"), ErrAuthRequired)
	_, err = s.SendMessage(ctx, "c1", "hi", "alice")
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.ErrorIs(t, s.MarkAsRead(ctx, "c1"), ErrAuthRequired)

	assert.Empty(t, api.tokens)
	assert.Zero(t, api.listCalls)
	assert.Empty(t, s.Conversations())
	assert.Empty(t, s.Messages("c1"))
}

func TestStoreGetOrCreateConversationCaches(t *testing.T) {
	api := newFakeAPI()
	s := NewStore(api, alice)

	c1, err := s.GetOrCreateConversation(context.Background(), "bob")
	require.NoError(t, err)
	c2, err := s.GetOrCreateConversation(context.Background(), "bob")
	require.NoError(t, err)

	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, []string{"tok-alice"}, api.tokens)
	assert.Len(t, s.Conversations(), 1)
}

func TestStoreFetchErrorKeepsState(t *testing.T) {
	api := newFakeAPI()
	s := NewStore(api, alice)
	s.AddMessage(mkMsg("m1", "c1", "bob", at(0)), "alice")

	api.listErr = errDown
	err := s.FetchMessages(context.Background(), "c1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, []string{"m1"}, ids(s.Messages("c1")))

	// retry does not duplicate what is already loaded
	api.listErr = nil
	api.history["c1"] = []models.Message{mkMsg("m1", "c1", "bob", at(0)), mkMsg("m2", "c1", "bob", at(time.Second))}
	require.NoError(t, s.FetchMessages(context.Background(), "c1"))
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages("c1")))
}

func TestStoreFetchDiscardedWhenConversationNoLongerActive(t *testing.T) {
	api := newFakeAPI()
	api.history["x"] = []models.Message{mkMsg("m1", "x", "bob", at(0))}
	api.listGate = make(chan struct{})
	s := NewStore(api, alice)
	s.SetActive("x")

	done := make(chan error, 1)
	go func() { done <- s.FetchMessages(context.Background(), "x") }()
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.listCalls == 1
	}, time.Second, time.Millisecond)

	s.SetActive("y")
	close(api.listGate)

	assert.ErrorIs(t, <-done, ErrStale)
	assert.Empty(t, s.Messages("x"))
}

func TestStoreResetDropsInFlightResults(t *testing.T) {
	api := newFakeAPI()
	api.history["c1"] = []models.Message{mkMsg("m1", "c1", "bob", at(0))}
	api.listGate = make(chan struct{})
	s := NewStore(api, alice)
	s.AddMessage(mkMsg("m0", "c9", "bob", at(0)), "alice")

	done := make(chan error, 1)
	go func() { done <- s.FetchMessages(context.Background(), "c1") }()
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.listCalls == 1
	}, time.Second, time.Millisecond)

	s.Reset()
	close(api.listGate)

	assert.ErrorIs(t, <-done, ErrStale)
	assert.Empty(t, s.Messages("c1"))
	assert.Empty(t, s.Messages("c9"))
	assert.Empty(t, s.UnreadCounts())
}

func TestStoreSendMessage(t *testing.T) {
	api := newFakeAPI()
	s := NewStore(api, alice)

	m, err := s.SendMessage(context.Background(), "c1", "hello", "alice")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", m.ID)
	assert.Equal(t, []string{"srv-1"}, ids(s.Messages("c1")))
	assert.Equal(t, 0, s.Unread("c1"))
	assert.Empty(t, api.sent[0].ClientID)

	_, err = s.SendMessage(context.Background(), "c1", "   ", "alice")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestStoreSendFailureLeavesNoEntry(t *testing.T) {
	for _, optimistic := range []bool{false, true} {
		api := newFakeAPI()
		api.sendErr = errDown
		var opts []Option
		if optimistic {
			opts = append(opts, WithOptimisticSend())
		}
		s := NewStore(api, alice, opts...)

		_, err := s.SendMessage(context.Background(), "c1", "hello", "alice")
		assert.ErrorIs(t, err, ErrSend)
		assert.True(t, errors.Is(err, errDown))
		assert.Empty(t, s.Messages("c1"), "optimistic=%v", optimistic)
	}
}

func TestStoreOptimisticSendReplacesEcho(t *testing.T) {
	api := newFakeAPI()
	s := NewStore(api, alice, WithOptimisticSend(), WithClock(func() time.Time { return at(0) }))

	var during []models.Message
	api.sendHook = func(models.Message) { during = s.Messages("c1") }

	m, err := s.SendMessage(context.Background(), "c1", "hello", "alice")
	require.NoError(t, err)

	require.Len(t, during, 1)
	assert.True(t, during[0].Pending)
	assert.Equal(t, during[0].ID, m.ClientID)

	got := s.Messages("c1")
	require.Len(t, got, 1)
	assert.Equal(t, "srv-1", got[0].ID)
	assert.False(t, got[0].Pending)
}

func TestStoreOptimisticSendSocketEchoFirst(t *testing.T) {
	api := newFakeAPI()
	s := NewStore(api, alice, WithOptimisticSend())
	api.sendHook = func(m models.Message) { s.AddMessage(m, "alice") }

	_, err := s.SendMessage(context.Background(), "c1", "hello", "alice")
	require.NoError(t, err)

	assert.Equal(t, []string{"srv-1"}, ids(s.Messages("c1")))
}

func TestStoreUpdateMessageReadStatus(t *testing.T) {
	s := NewStore(newFakeAPI(), alice)
	s.AddMessage(mkMsg("a1", "c1", "alice", at(0)), "alice")
	s.AddMessage(mkMsg("b1", "c1", "bob", at(time.Second)), "alice")
	s.AddMessage(mkMsg("a2", "c1", "alice", at(2*time.Second)), "alice")
	s.AddMessage(mkMsg("z1", "c2", "alice", at(0)), "alice")

	s.UpdateMessageReadStatus("c1", "bob")

	read := map[string]bool{}
	for _, m := range s.Messages("c1") {
		read[m.ID] = m.Read
	}
	assert.Equal(t, map[string]bool{"a1": true, "b1": false, "a2": true}, read)
	assert.False(t, s.Messages("c2")[0].Read)

	// the local user's own receipt changes nothing
	s.AddMessage(mkMsg("a3", "c1", "alice", at(3*time.Second)), "alice")
	s.UpdateMessageReadStatus("c1", "alice")
	assert.False(t, s.Messages("c1")[3].Read)
}

func TestStoreSetTyping(t *testing.T) {
	s := NewStore(newFakeAPI(), alice)
	var changes []Change
	unsub := s.Subscribe(func(c Change) { changes = append(changes, c) })
	defer unsub()

	s.SetTyping("c1", "bob", true)
	s.SetTyping("c1", "carol", true)
	s.SetTyping("c1", "bob", true)
	assert.Equal(t, []string{"bob", "carol"}, s.TypingUsers("c1"))

	s.SetTyping("c1", "bob", false)
	s.SetTyping("c1", "dave", false)
	assert.Equal(t, []string{"carol"}, s.TypingUsers("c1"))
	assert.Len(t, changes, 3)

	s.ClearTyping("c1")
	assert.Empty(t, s.TypingUsers("c1"))
}

func TestStoreSubscribe(t *testing.T) {
	s := NewStore(newFakeAPI(), alice)
	var got []Change
	unsub := s.Subscribe(func(c Change) { got = append(got, c) })

	s.SetActive("other")
	s.AddMessage(mkMsg("m1", "c1", "bob", at(0)), "alice")
	unsub()
	s.AddMessage(mkMsg("m2", "c1", "bob", at(time.Second)), "alice")

	m1 := mkMsg("m1", "c1", "bob", at(0))
	assert.Equal(t, []Change{
		{Kind: ChangeActive, ConversationID: "other"},
		{Kind: ChangeMessages, ConversationID: "c1"},
		{Kind: ChangeNewMessage, ConversationID: "c1", Message: &m1},
		{Kind: ChangeUnread, ConversationID: "c1"},
	}, got)
}

func TestStoreMarkAsReadWithoutLocalUserID(t *testing.T) {
	api := newFakeAPI()
	s := NewStore(api, auth.Static{BearerToken: "tok"})
	_, err := s.GetOrCreateConversation(context.Background(), "bob")
	require.NoError(t, err)

	s.AddMessage(mkMsg("b1", "conv-bob", "bob", at(0)), "")
	s.AddMessage(mkMsg("a1", "conv-bob", "alice", at(time.Second)), "")
	require.NoError(t, s.MarkAsRead(context.Background(), "conv-bob"))

	msgs := s.Messages("conv-bob")
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Read, "peer message")
	assert.False(t, msgs[1].Read, "own message stays unread")
	assert.Equal(t, 0, s.Unread("conv-bob"))
}

func TestStoreReadFlagOnlyTurnsOn(t *testing.T) {
	s := NewStore(newFakeAPI(), alice)
	m := mkMsg("m1", "c1", "alice", at(0))
	m.Read = true
	s.AddMessage(m, "alice")

	m.Read = false
	s.AddMessage(m, "alice")
	assert.True(t, s.Messages("c1")[0].Read)
}
