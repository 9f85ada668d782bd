// Package rediscache implements store.Cache over redis/go-redis, grounded
// on the teacher's orchestrator.RedisDedupeStore (Get/Set-with-TTL over a
// pinged *redis.Client), extended with brain-namespaced keys and the atomic
// counter / task-key-scan primitives the task runtime's fan-in logic and
// task-status cache need (spec §4.6).
package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Lumen-Labs/brainapi2/internal/store"
)

// Cache is a brain-namespaced Cache backed by Redis.
type Cache struct {
	client *redis.Client
}

// New creates a Cache using the given address (e.g. "localhost:6379") and
// pings the server to validate the connection, matching the teacher's
// NewRedisDedupeStore.
func New(addr string) (store.Cache, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rediscache: ping failed: %w", err)
	}
	return &Cache{client: c}, nil
}

func namespaced(brainID, key string) string {
	return brainID + ":" + key
}

func (c *Cache) Get(ctx context.Context, brainID, key string) (string, error) {
	val, err := c.client.Get(ctx, namespaced(brainID, key)).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("rediscache: key %s not found", key)
	}
	if err != nil {
		return "", fmt.Errorf("rediscache: get %s: %w", key, err)
	}
	return val, nil
}

func (c *Cache) Set(ctx context.Context, brainID, key, value string, expiresIn time.Duration) error {
	if err := c.client.Set(ctx, namespaced(brainID, key), value, expiresIn).Err(); err != nil {
		return fmt.Errorf("rediscache: set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, brainID, key string) error {
	if err := c.client.Del(ctx, namespaced(brainID, key)).Err(); err != nil {
		return fmt.Errorf("rediscache: delete %s: %w", key, err)
	}
	return nil
}

// Decr atomically decrements counterKey, backing the task runtime's
// per-session pending-task fan-in counter (session:{id}:pending_tasks).
func (c *Cache) Decr(ctx context.Context, brainID, counterKey string) (int64, error) {
	v, err := c.client.Decr(ctx, namespaced(brainID, counterKey)).Result()
	if err != nil {
		return 0, fmt.Errorf("rediscache: decr %s: %w", counterKey, err)
	}
	return v, nil
}

func (c *Cache) IncrBy(ctx context.Context, brainID, counterKey string, delta int64) (int64, error) {
	v, err := c.client.IncrBy(ctx, namespaced(brainID, counterKey), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("rediscache: incrby %s: %w", counterKey, err)
	}
	return v, nil
}

// GetTaskKeys scans for every task:{id} key live for a brain. Expired keys
// are handled by Redis's own TTL eviction, so unlike the in-memory fake this
// needs no explicit purge step.
func (c *Cache) GetTaskKeys(ctx context.Context, brainID string) ([]string, error) {
	prefix := namespaced(brainID, "task:")
	var out []string
	iter := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(brainID)+1:])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("rediscache: scan task keys: %w", err)
	}
	return out, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}
