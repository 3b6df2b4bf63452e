package ratelimit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed window counter kept in Redis with INCR + EXPIRE.
// Redis errors fail open: Allow reports true along with the error and leaves
// logging it to the caller.
type RedisLimiter struct {
	client *redis.Client
	rule   Rule
	log    *slog.Logger
}

func NewRedisLimiter(client *redis.Client, rule Rule, logger *slog.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, rule: rule, log: logger}
}

func (l *RedisLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := l.rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return true, fmt.Errorf("incr %s: %w", key, err)
	}

	// the first hit opens the window
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.rule.Window).Err(); err != nil {
			// a key without a TTL would throttle the sender forever
			if delErr := l.client.Del(ctx, key).Err(); delErr != nil {
				l.log.Error("window key left without a ttl", "key", key, "error", delErr)
			}
			return true, fmt.Errorf("expire %s: %w", key, err)
		}
	}

	return int(count) <= l.rule.Limit, nil
}
