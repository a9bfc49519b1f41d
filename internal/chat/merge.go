package chat

import (
	"slices"

	"chatsync/internal/models"
)

// mergeMessages folds incoming into existing: one entry per id, ascending by
// CreatedAt, stable for equal timestamps. A duplicate can only turn Read on.
// Pending echoes whose temporary id is claimed by an incoming ClientID are dropped.
func mergeMessages(existing, incoming []models.Message) []models.Message {
	claimed := make(map[string]struct{})
	for _, m := range incoming {
		if m.ClientID != "" && !m.Pending {
			claimed[m.ClientID] = struct{}{}
		}
	}

	out := make([]models.Message, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))
	for _, m := range existing {
		if _, ok := claimed[m.ID]; ok && m.Pending {
			continue
		}
		if _, dup := index[m.ID]; dup {
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	for _, m := range incoming {
		if m.ID == "" {
			continue
		}
		if i, ok := index[m.ID]; ok {
			if m.Read {
				out[i].Read = true
			}
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}

	slices.SortStableFunc(out, func(a, b models.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

func indexOf(msgs []models.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}
