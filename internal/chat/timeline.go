package chat

import (
	"time"

	"chatsync/internal/models"
)

// TimestampGap is the silence after which a new timestamp divider is shown.
const TimestampGap = 5 * time.Minute

type TimelineItem struct {
	Message models.Message
	// ShowTimestamp puts a divider before the message
	ShowTimestamp bool
	Mine          bool
}

// BuildTimeline groups an ordered message list for display.
func BuildTimeline(msgs []models.Message, localUserID string) []TimelineItem {
	items := make([]TimelineItem, len(msgs))
	for i, m := range msgs {
		items[i] = TimelineItem{
			Message:       m,
			ShowTimestamp: i == 0 || m.CreatedAt.Sub(msgs[i-1].CreatedAt) > TimestampGap,
			Mine:          localUserID != "" && m.SenderID == localUserID,
		}
	}
	return items
}
