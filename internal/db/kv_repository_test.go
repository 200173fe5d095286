package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVRepository_PutGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewKVRepository(db)
	ctx := context.Background()

	_, ok, err := repo.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Put(ctx, "memory/a", []byte("one")))
	value, ok, err := repo.Get(ctx, "memory/a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), value)

	require.NoError(t, repo.Put(ctx, "memory/a", []byte("two")))
	value, _, err = repo.Get(ctx, "memory/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), value)
}

func TestKVRepository_EmptyKey(t *testing.T) {
	repo := NewKVRepository(setupTestDB(t))
	err := repo.Put(context.Background(), "  ", []byte("x"))
	assert.True(t, errors.Is(err, ErrEmptyKey))
}

func TestKVRepository_KeysAndDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewKVRepository(db)
	ctx := context.Background()

	for _, key := range []string{"memory/b", "memory/a", "intel/x", "memory_%"} {
		require.NoError(t, repo.Put(ctx, key, []byte(key)))
	}

	keys, err := repo.Keys(ctx, "memory/")
	require.NoError(t, err)
	assert.Equal(t, []string{"memory/a", "memory/b"}, keys)

	keys, err = repo.Keys(ctx, "memory_")
	require.NoError(t, err)
	assert.Equal(t, []string{"memory_%"}, keys)

	require.NoError(t, repo.Delete(ctx, "memory/a"))
	require.NoError(t, repo.Delete(ctx, "memory/a"))
	_, ok, err := repo.Get(ctx, "memory/a")
	require.NoError(t, err)
	assert.False(t, ok)
}
