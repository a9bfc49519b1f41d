package tui

import (
	"strings"
	"testing"
	"time"

	"chatsync/internal/chat"
	"chatsync/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRenderTimeline(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		{ID: "1", SenderID: "bob", Content: "hi", CreatedAt: t0},
		{ID: "2", SenderID: "alice", Content: "hey", CreatedAt: t0.Add(time.Minute), Read: true},
		{ID: "3", SenderID: "alice", Content: "later", CreatedAt: t0.Add(time.Hour)},
		{ID: "tmp-4", SenderID: "alice", Content: "wait", CreatedAt: t0.Add(time.Hour), Pending: true},
	}
	out := RenderTimeline(chat.BuildTimeline(msgs, "alice"), "Bob", 100)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")

	// two dividers: before the first message and after the hour gap
	assert.Len(t, lines, 6)
	assert.Contains(t, lines[1], "Bob: ")
	assert.Contains(t, lines[1], "hi")
	assert.Contains(t, lines[2], "(read)")
	assert.Contains(t, lines[4], "(sent)")
	assert.Contains(t, lines[5], "(sending)")

	tail := RenderTimeline(chat.BuildTimeline(msgs, "alice"), "Bob", 2)
	assert.Equal(t, 2, strings.Count(tail, "\n"))
	assert.Contains(t, tail, "wait")

	assert.Empty(t, RenderTimeline(nil, "Bob", 10))
}

func TestStatusLine(t *testing.T) {
	online := func() bool { return true }
	offline := func() bool { return false }

	assert.Empty(t, statusLine(nil, ""))
	assert.Empty(t, statusLine(online, ""))
	assert.Equal(t, "send failed", statusLine(online, "send failed"))
	assert.Equal(t, "reconnecting...", statusLine(offline, ""))
	assert.Equal(t, "reconnecting... send failed", statusLine(offline, "send failed"))
}
