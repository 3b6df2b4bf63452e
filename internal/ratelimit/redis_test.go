package ratelimit

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-realtime-chat/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to REDIS_ADDR (default localhost:6379) and skips the
// test when Redis is not reachable.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLimiter_Allow(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	rule := Rule{Key: "rl:test:" + uuid.NewString() + ":", Limit: 2, Window: time.Second}
	l := NewRedisLimiter(client, rule, testutil.TestLogger(t))
	t.Cleanup(func() { client.Del(ctx, rule.Key+"alice") })

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok, "expected third hit in the window to be rejected")

	ttl, err := client.TTL(ctx, rule.Key+"alice").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "expected the window key to carry a TTL")
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	var logs bytes.Buffer
	l := NewRedisLimiter(client, RuleMessage, testutil.NewLogger(&logs))
	ok, err := l.Allow(context.Background(), "alice")
	assert.Error(t, err)
	assert.True(t, ok, "expected limiter to fail open when redis is unreachable")
	assert.Empty(t, logs.String(), "the caller logs the fail open, not the limiter")
}
