package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/workspacehq/gateway/internal/platform/logging"
)

// CachedStore wraps a Store with a Redis read-through cache, purely as an
// optimization for repeated GetMachineID polling from the (out-of-scope)
// landing UI — see SPEC_FULL.md §4.3. Redis unavailability never surfaces
// as an error to callers: a cache miss or Redis failure simply falls
// through to the wrapped Store.
type CachedStore struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedStore wraps inner with a Redis cache at ttl (default 30s if <=0).
func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedStore{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *CachedStore) cacheKey(key Key) string {
	return "workspace_gateway:machine_record:" + key.String()
}

// Load first attempts the Redis cache, falling back to the wrapped Store on
// a miss or any Redis error. A successful fallback read refreshes the cache.
func (c *CachedStore) Load(key Key) (Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if raw, err := c.client.Get(ctx, c.cacheKey(key)).Bytes(); err == nil {
		var rec Record
		if jsonErr := json.Unmarshal(raw, &rec); jsonErr == nil {
			return rec, nil
		}
	} else if err != redis.Nil {
		c.logger.WithError(err).Warn("store cache read failed, falling back to file store")
	}

	rec, err := c.inner.Load(key)
	if err != nil {
		return rec, err
	}

	if payload, jsonErr := json.Marshal(rec); jsonErr == nil {
		if setErr := c.client.Set(ctx, c.cacheKey(key), payload, c.ttl).Err(); setErr != nil {
			c.logger.WithError(setErr).Warn("store cache write failed")
		}
	}

	return rec, nil
}

// Save writes through to the wrapped Store, then invalidates the cache
// entry so the next Load observes the new value rather than a stale one.
func (c *CachedStore) Save(key Key, rec Record) error {
	if err := c.inner.Save(key, rec); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := c.client.Del(ctx, c.cacheKey(key)).Err(); err != nil {
		c.logger.WithError(err).Warn("store cache invalidation failed")
	}
	return nil
}

// Invalidate drops the cache entry for key without touching the underlying
// store — called by the Workspace Actor on Suspend so a subsequent poll
// does not read a cached pre-suspend record.
func (c *CachedStore) Invalidate(key Key) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := c.client.Del(ctx, c.cacheKey(key)).Err(); err != nil {
		c.logger.WithError(err).Warn("store cache invalidation failed")
	}
}
