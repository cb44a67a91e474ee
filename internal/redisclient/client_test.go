package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis")
	}

	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLockIsExclusive(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := "test:" + uuid.New().String()

	token, ok, err := c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, c.ReleaseLock(ctx, key, "someone-else"), ErrLockNotHeld)
	require.NoError(t, c.ReleaseLock(ctx, key, token))

	_, ok, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimIdempotencyKey(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := uuid.New().String()

	first, err := c.ClaimIdempotencyKey(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := c.ClaimIdempotencyKey(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, c.ForgetIdempotencyKey(ctx, key))
	retry, err := c.ClaimIdempotencyKey(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, retry)
}

func TestLockName(t *testing.T) {
	assert.Equal(t, "lock:catalog-sync:1:2", lockName("catalog-sync:1:2"))
}
