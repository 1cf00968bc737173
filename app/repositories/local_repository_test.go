package repositories

import (
	"context"
	"testing"
	"time"

	"commentbox/app/models"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewLocalRepository(db, LocalKeyPrefix)
	clock := time.UnixMilli(1_700_000_000_000)
	repo.now = func() time.Time { return clock }
	ctx := context.Background()
	page := models.Page{PostID: "posts_hello"}

	t.Run("empty post", func(t *testing.T) {
		comments, err := repo.List(ctx, "nothing_here")
		assert.NoError(t, err)
		assert.NotNil(t, comments)
		assert.Empty(t, comments)
	})

	t.Run("add and list newest first", func(t *testing.T) {
		first := &models.Comment{Author: "Ann", Content: "first"}
		second := &models.Comment{Author: "Bob", Content: "second"}
		require.NoError(t, repo.Add(ctx, page, first))
		require.NoError(t, repo.Add(ctx, page, second))

		assert.Equal(t, clock.UnixMilli(), first.ID)
		assert.Greater(t, second.ID, first.ID)
		assert.Equal(t, "posts_hello", second.PostID)
		assert.False(t, second.Date.IsZero())

		comments, err := repo.List(ctx, page.PostID)
		require.NoError(t, err)
		require.Len(t, comments, 2)
		assert.Equal(t, "second", comments[0].Content)
		assert.Equal(t, "first", comments[1].Content)
	})

	t.Run("stored under the prefixed key", func(t *testing.T) {
		err := db.View(func(txn *badger.Txn) error {
			_, err := txn.Get([]byte("comments_posts_hello"))
			return err
		})
		assert.NoError(t, err)
	})

	t.Run("partitions are isolated", func(t *testing.T) {
		require.NoError(t, repo.Add(ctx, models.Page{PostID: "other"}, &models.Comment{Author: "Cy", Content: "elsewhere"}))
		comments, err := repo.List(ctx, page.PostID)
		require.NoError(t, err)
		assert.Len(t, comments, 2)
	})

	t.Run("prefixes are isolated", func(t *testing.T) {
		fallback := NewLocalRepository(db, FallbackKeyPrefix)
		comments, err := fallback.List(ctx, page.PostID)
		require.NoError(t, err)
		assert.Empty(t, comments)

		require.NoError(t, fallback.Add(ctx, page, &models.Comment{Author: "Dee", Content: "saved locally", Local: true}))
		comments, err = fallback.List(ctx, page.PostID)
		require.NoError(t, err)
		require.Len(t, comments, 1)
		assert.True(t, comments[0].Local)

		ids, err := repo.Posts(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"posts_hello", "other"}, ids)
	})

	t.Run("malformed value lists empty and is replaced", func(t *testing.T) {
		require.NoError(t, db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte("comments_broken"), []byte("{not json"))
		}))

		comments, err := repo.List(ctx, "broken")
		assert.ErrorIs(t, err, ErrMalformed)
		assert.Empty(t, comments)

		require.NoError(t, repo.Add(ctx, models.Page{PostID: "broken"}, &models.Comment{Author: "Eve", Content: "fresh start"}))
		comments, err = repo.List(ctx, "broken")
		require.NoError(t, err)
		require.Len(t, comments, 1)
		assert.Equal(t, "fresh start", comments[0].Content)
	})

	t.Run("empty post id is rejected", func(t *testing.T) {
		err := repo.Add(ctx, models.Page{}, &models.Comment{Author: "F", Content: "x"})
		assert.Error(t, err)
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := repo.List(cctx, page.PostID)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
