// Package storagetest holds the behaviour every storage.Repository must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"chatsync/internal/models"
	"chatsync/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUser(t *testing.T, repo storage.Repository, name string) *models.User {
	t.Helper()
	u := &models.User{
		ID:           uuid.NewString(),
		Username:     name + "-" + uuid.NewString()[:8],
		Name:         name,
		Role:         "student",
		PasswordHash: "x",
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.CreateUser(context.Background(), u))
	return u
}

// Run exercises repo. newRepo must return an empty or isolated repository.
func Run(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	t.Run("users", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		u := newUser(t, repo, "ada")

		got, err := repo.GetUserByUsername(ctx, u.Username)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		dup := *u
		dup.ID = uuid.NewString()
		assert.ErrorIs(t, repo.CreateUser(ctx, &dup), storage.ErrConflict)

		_, err = repo.GetUser(ctx, uuid.NewString())
		assert.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, repo.UpdateAvatar(ctx, u.ID, "/uploads/ada.png"))
		got, err = repo.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "/uploads/ada.png", got.Avatar)
		assert.ErrorIs(t, repo.UpdateAvatar(ctx, uuid.NewString(), "x"), storage.ErrNotFound)
	})

	t.Run("direct conversation is unique per pair", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		a, b := newUser(t, repo, "a"), newUser(t, repo, "b")

		_, err := repo.FindDirectConversation(ctx, a.ID, b.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		rec := storage.ConversationRecord{ID: uuid.NewString(), Participants: []string{a.ID, b.ID}, CreatedAt: time.Now().UTC()}
		created, ok, err := repo.CreateDirectConversation(ctx, rec)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, rec.ID, created.ID)

		again, ok, err := repo.CreateDirectConversation(ctx, storage.ConversationRecord{
			ID: uuid.NewString(), Participants: []string{b.ID, a.ID}, CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, rec.ID, again.ID)

		found, err := repo.FindDirectConversation(ctx, b.ID, a.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, found.ID)
		assert.ElementsMatch(t, []string{a.ID, b.ID}, found.Participants)

		list, err := repo.ListConversations(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, b.ID, list[0].Peer(a.ID))
	})

	t.Run("messages", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		a, b := newUser(t, repo, "a"), newUser(t, repo, "b")
		rec := storage.ConversationRecord{ID: uuid.NewString(), Participants: []string{a.ID, b.ID}, CreatedAt: time.Now().UTC()}
		_, _, err := repo.CreateDirectConversation(ctx, rec)
		require.NoError(t, err)

		base := time.Now().UTC().Truncate(time.Microsecond)
		for i, sender := range []string{a.ID, b.ID, a.ID, b.ID} {
			m := &models.Message{
				ID:             uuid.NewString(),
				ConversationID: rec.ID,
				SenderID:       sender,
				Content:        "hi",
				CreatedAt:      base.Add(time.Duration(i) * time.Second),
			}
			require.NoError(t, repo.SaveMessage(ctx, m))
		}

		last, err := repo.ListMessages(ctx, rec.ID, 3)
		require.NoError(t, err)
		require.Len(t, last, 3)
		assert.True(t, last[0].CreatedAt.Equal(base.Add(time.Second)))
		assert.True(t, last[2].CreatedAt.Equal(base.Add(3*time.Second)))

		n, err := repo.MarkRead(ctx, rec.ID, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = repo.MarkRead(ctx, rec.ID, a.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		all, err := repo.ListMessages(ctx, rec.ID, 10)
		require.NoError(t, err)
		for _, m := range all {
			assert.Equal(t, m.SenderID == b.ID, m.Read)
		}
	})
}
