package chat

import (
	"testing"
	"time"

	"chatsync/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestBuildTimeline(t *testing.T) {
	msgs := []models.Message{
		mkMsg("m1", "c1", "bob", at(0)),
		mkMsg("m2", "c1", "alice", at(time.Minute)),
		mkMsg("m3", "c1", "bob", at(6*time.Minute)),             // exactly 5m after m2
		mkMsg("m4", "c1", "bob", at(11*time.Minute+time.Second)), // 5m1s after m3
	}

	items := BuildTimeline(msgs, "alice")

	var dividers []bool
	var mine []bool
	for _, it := range items {
		dividers = append(dividers, it.ShowTimestamp)
		mine = append(mine, it.Mine)
	}
	assert.Equal(t, []bool{true, false, false, true}, dividers)
	assert.Equal(t, []bool{false, true, false, false}, mine)
	assert.Empty(t, BuildTimeline(nil, "alice"))
}
