package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/Lumen-Labs/brainapi2/internal/store"
)

// dedupeTTL bounds how long a correlation id is remembered, matching the
// task's own status retention window (spec §4.6 Dedupe).
const dedupeTTL = statusTTL

func dedupeKey(correlationID string) string { return fmt.Sprintf("dedupe:%s", correlationID) }

// DedupeStore prevents double-processing of redelivered messages within the
// TTL window, grounded on internal/orchestrator/dedupe.go's DedupeStore.
type DedupeStore interface {
	Get(ctx context.Context, brainID, correlationID string) (string, error)
	Set(ctx context.Context, brainID, correlationID, value string) error
}

// CacheDedupeStore implements DedupeStore on top of store.Cache, replacing
// the teacher's Redis-direct RedisDedupeStore with the same per-brain Cache
// capability every other component in this module depends on.
type CacheDedupeStore struct {
	Cache store.Cache
}

// Get returns "" when the correlation id hasn't been seen, matching the
// teacher's redis.Nil-to-empty-string convention.
func (d *CacheDedupeStore) Get(ctx context.Context, brainID, correlationID string) (string, error) {
	val, err := d.Cache.Get(ctx, brainID, dedupeKey(correlationID))
	if err != nil {
		return "", nil
	}
	return val, nil
}

func (d *CacheDedupeStore) Set(ctx context.Context, brainID, correlationID, value string) error {
	return d.Cache.Set(ctx, brainID, dedupeKey(correlationID), value, dedupeTTL)
}
