package content

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterPublishable(t *testing.T) {
	store := NewMemoryStore(
		Item{ID: 1, Title: "one", Status: StatusPublish},
		Item{ID: 2, Title: "two", Status: "draft"},
		Item{ID: 3, Title: "three", Status: StatusPublish},
	)

	got, err := FilterPublishable(context.Background(), store, []int64{3, 2, 99, 1, 3, 0, -4})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, got)

	none, err := FilterPublishable(context.Background(), store, []int64{2, 99})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	created, err := store.UpsertItem(ctx, Item{Title: "a", Body: "old", Status: StatusPublish})
	require.NoError(t, err)
	assert.EqualValues(t, 1, created.ID)

	require.NoError(t, store.UpdateBody(ctx, created.ID, "new"))
	got, err := store.GetItem(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Body)

	store.Delete(created.ID)
	_, err = store.GetItem(ctx, created.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(store.UpdateBody(ctx, created.ID, "x"), ErrNotFound))
}

func TestLinks(t *testing.T) {
	l := Links{SiteURL: "https://example.com/"}
	assert.Equal(t, "https://example.com/items/7/edit", l.Edit(7))
	assert.Equal(t, "https://example.com/items/7", l.View(7))
	assert.Equal(t, "/items/7", Links{}.View(7))
}
