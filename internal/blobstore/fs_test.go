package blobstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pincollector/internal/blobstore"
	"pincollector/internal/models"
	"pincollector/internal/workflow"
)

var _ workflow.BlobStore = (*blobstore.FS)(nil)

func TestFS(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewFS(t.TempDir())

	ok, err := store.Exists(ctx, "pinimages")
	require.NoError(t, err)
	assert.False(t, ok)

	err = store.Put(ctx, "pinimages", "a.png", []byte("one"), "image/png")
	require.Error(t, err)
	assert.True(t, models.ErrUnavailable.Has(err))

	require.NoError(t, store.EnsureContainer("pinimages"))
	ok, err = store.Exists(ctx, "pinimages")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Put(ctx, "pinimages", "a.png", []byte("one"), "image/png"))
	require.NoError(t, store.Put(ctx, "pinimages", "a.png", []byte("two"), "image/png"))

	data, err := store.Get(ctx, "pinimages", "a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)

	_, err = store.Get(ctx, "pinimages", "missing.png")
	assert.True(t, models.ErrNotFound.Has(err))

	_, err = store.Get(ctx, "pinimages", "../secret")
	assert.True(t, models.ErrNotFound.Has(err))
}
