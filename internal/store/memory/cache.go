package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Lumen-Labs/brainapi2/internal/store"
)

type cacheEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Cache is an in-memory, brain-namespaced Cache fake supporting TTL expiry
// and atomic counters, standing in for the Redis-backed production Cache
// (internal/store/rediscache) in tests of the task runtime's fan-in counter
// and task-status bookkeeping.
type Cache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
}

// NewCache constructs an empty in-memory Cache.
func NewCache() store.Cache {
	return &Cache{data: make(map[string]cacheEntry)}
}

func namespaced(brainID, key string) string {
	return brainID + ":" + key
}

func (c *Cache) Get(_ context.Context, brainID, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[namespaced(brainID, key)]
	if !ok || c.expiredLocked(e) {
		return "", fmt.Errorf("memory cache: key %s not found", key)
	}
	return e.value, nil
}

func (c *Cache) expiredLocked(e cacheEntry) bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

func (c *Cache) Set(_ context.Context, brainID, key, value string, expiresIn time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expiresAt time.Time
	if expiresIn > 0 {
		expiresAt = time.Now().Add(expiresIn)
	}
	c.data[namespaced(brainID, key)] = cacheEntry{value: value, expiresAt: expiresAt}
	return nil
}

func (c *Cache) Delete(_ context.Context, brainID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, namespaced(brainID, key))
	return nil
}

// Decr atomically decrements the integer stored at counterKey (creating it
// at 0 first if absent) and returns the new value. This backs the task
// runtime's per-session pending-task fan-in counter (spec §4.6).
func (c *Cache) Decr(_ context.Context, brainID, counterKey string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(brainID, counterKey, -1)
}

func (c *Cache) IncrBy(_ context.Context, brainID, counterKey string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(brainID, counterKey, delta)
}

func (c *Cache) addLocked(brainID, counterKey string, delta int64) (int64, error) {
	fullKey := namespaced(brainID, counterKey)
	e, ok := c.data[fullKey]
	var current int64
	if ok && !c.expiredLocked(e) && e.value != "" {
		v, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("memory cache: counter %s has non-integer value %q", counterKey, e.value)
		}
		current = v
	}
	current += delta
	c.data[fullKey] = cacheEntry{value: strconv.FormatInt(current, 10), expiresAt: e.expiresAt}
	return current, nil
}

// GetTaskKeys lists every task-status key (task:{id}) currently live for a
// brain, skipping entries past their TTL — the in-memory analogue of the
// production cache's lazy 7-day purge (spec §4.6).
func (c *Cache) GetTaskKeys(_ context.Context, brainID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := namespaced(brainID, "task:")
	var out []string
	for k, e := range c.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if c.expiredLocked(e) {
			delete(c.data, k)
			continue
		}
		out = append(out, strings.TrimPrefix(k, brainID+":"))
	}
	return out, nil
}

func (c *Cache) Close() error { return nil }
