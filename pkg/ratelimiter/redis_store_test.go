package ratelimiter_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/verdict/pkg/ratelimiter"
	"github.com/dmitrymomot/verdict/pkg/redis"
)

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL is not set")
	}
	ctx := context.Background()

	client, err := redis.Connect(ctx, redis.Config{
		ConnectionURL:  url,
		RetryAttempts:  3,
		RetryInterval:  time.Second,
		ConnectTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	prefix := fmt.Sprintf("verdict-rl-test-%d", time.Now().UnixNano())
	b, err := ratelimiter.NewBucket(ratelimiter.NewRedisStore(client, ratelimiter.WithKeyPrefix(prefix)), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Reset(ctx, "k") })

	for want := 2; want >= 0; want-- {
		res, err := b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, want, res.Remaining)
	}
	res, err := b.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, res.Allowed())
	assert.True(t, res.ResetAt.After(time.Now()))

	status, err := b.Status(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Remaining)

	require.NoError(t, b.Reset(ctx, "k"))
	res, err = b.Allow(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Remaining)
}
