package persistence

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const counterKeyPrefix = "assignment:counter:"

// RedisAssignmentCounter stores the per-role round-robin counters as
// Redis integers, so increments are atomic across processes.
type RedisAssignmentCounter struct {
	client *redis.Client
}

// NewRedisAssignmentCounter builds the counter store.
func NewRedisAssignmentCounter(client *redis.Client) *RedisAssignmentCounter {
	return &RedisAssignmentCounter{client: client}
}

// Incr atomically increments and returns the role's counter.
func (c *RedisAssignmentCounter) Incr(ctx context.Context, role string) (int64, error) {
	return c.client.Incr(ctx, counterKeyPrefix+role).Result()
}

// Reset clears the role's counter.
func (c *RedisAssignmentCounter) Reset(ctx context.Context, role string) error {
	return c.client.Del(ctx, counterKeyPrefix+role).Err()
}
