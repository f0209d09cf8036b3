package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRefreshStoreConsumeIsSingleUse(t *testing.T) {
	store := NewMemoryRefreshStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "jti-1", time.Minute))

	ok, err := store.Consume(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Consume(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRefreshStoreExpiry(t *testing.T) {
	store := NewMemoryRefreshStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "jti-expired", -time.Second))

	ok, err := store.Consume(ctx, "jti-expired")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRefreshStoreCleanup(t *testing.T) {
	store := NewMemoryRefreshStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "live", time.Minute))
	require.NoError(t, store.Save(ctx, "stale", -time.Minute))

	assert.Equal(t, 1, store.Cleanup())

	ok, err := store.Consume(ctx, "live")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisRefreshStore(t *testing.T) {
	store := NewRedisRefreshStore(testRedis(t))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "jti-r", time.Minute))

	ok, err := store.Consume(ctx, "jti-r")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Consume(ctx, "jti-r")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, "jti-revoked", time.Minute))
	require.NoError(t, store.Revoke(ctx, "jti-revoked"))

	ok, err = store.Consume(ctx, "jti-revoked")
	require.NoError(t, err)
	assert.False(t, ok)
}
