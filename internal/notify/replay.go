package notify

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultReplayPrefix = "webhook:seen"

// RedisReplayProtector records provider delivery ids so each callback is
// handled once per TTL, across every API replica sharing the Redis.
type RedisReplayProtector struct {
	Client *redis.Client
	Prefix string
}

// Acquire reports whether key is new. A nil client admits everything.
func (p RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if p.Client == nil {
		return true, nil
	}
	seenAt := strconv.FormatInt(time.Now().Unix(), 10)
	return p.Client.SetNX(ctx, p.redisKey(key), seenAt, ttl).Result()
}

// Release forgets key; used when handling failed and the provider will retry.
func (p RedisReplayProtector) Release(ctx context.Context, key string) error {
	if p.Client == nil {
		return nil
	}
	return p.Client.Del(ctx, p.redisKey(key)).Err()
}

func (p RedisReplayProtector) redisKey(key string) string {
	prefix := p.Prefix
	if prefix == "" {
		prefix = defaultReplayPrefix
	}
	return prefix + ":" + key
}
