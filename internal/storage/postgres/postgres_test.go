package postgres

import (
	"context"
	"os"
	"testing"

	"chatsync/internal/db"
	"chatsync/internal/storage"
	"chatsync/internal/storage/storagetest"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("a", "b"), PairKey("b", "a"))
	assert.NotEqual(t, PairKey("a", "b"), PairKey("a", "c"))
}

// TestRepository needs a disposable database in TEST_DATABASE_URL.
func TestRepository(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))

	// users get random names and ids, so runs do not collide
	storagetest.Run(t, func(t *testing.T) storage.Repository { return New(pool) })
}
