package events

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "events:dedup:"

// RedisDedup implements the dedup window with SET NX PX. The bus hands
// it instance-scoped keys, so entries only suppress redelivery to the
// process that set them even when the Redis server is shared.
type RedisDedup struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDedup builds a dedup cache with the given TTL window.
func NewRedisDedup(client *redis.Client, ttl time.Duration) *RedisDedup {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisDedup{client: client, ttl: ttl}
}

// Seen marks the key and reports whether it was already present within
// the TTL window.
func (d *RedisDedup) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupKeyPrefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
