// Package cache provides a two-tier TTL cache: a small in-process map in
// front of an optional Redis tier shared across instances.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key is absent from every tier.
var ErrMiss = errors.New("cache: miss")

// negativeSentinel marks a cached "known absent" entry so repeated lookups of
// a missing value skip the backing store.
const negativeSentinel = "\x00nil\x00"

type localEntry struct {
	value     string
	expiresAt time.Time
}

// Cache is safe for concurrent use. The Redis client may be nil, in which
// case only the local tier is used.
type Cache struct {
	mu     sync.RWMutex
	local  map[string]localEntry
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New creates a cache with the given default TTL. client may be nil.
func New(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		local:  make(map[string]localEntry),
		client: client,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Key builds a user-scoped cache key so tenants never share entries.
func Key(userID, kind, name string) string {
	return "continuum:" + kind + ":" + userID + ":" + name
}

// Get returns the cached value. ErrMiss means not cached; a nil error with
// ok=false means the absence itself is cached (negative entry).
func (c *Cache) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	c.mu.RLock()
	e, hit := c.local[key]
	c.mu.RUnlock()
	if hit && c.now().Before(e.expiresAt) {
		if e.value == negativeSentinel {
			return "", false, nil
		}
		return e.value, true, nil
	}

	if c.client == nil {
		return "", false, ErrMiss
	}
	v, rerr := c.client.Get(ctx, key).Result()
	if rerr != nil {
		if errors.Is(rerr, redis.Nil) {
			return "", false, ErrMiss
		}
		// Redis trouble degrades to a miss rather than failing the caller.
		c.logger.Warn("cache: redis get failed", "key", key, "error", rerr)
		return "", false, ErrMiss
	}
	c.setLocal(key, v, c.ttl)
	if v == negativeSentinel {
		return "", false, nil
	}
	return v, true, nil
}

// Set stores a value in both tiers.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.setLocal(key, value, ttl)
	if c.client != nil {
		if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
			c.logger.Warn("cache: redis set failed", "key", key, "error", err)
		}
	}
}

// SetNegative caches the absence of a value.
func (c *Cache) SetNegative(ctx context.Context, key string, ttl time.Duration) {
	c.Set(ctx, key, negativeSentinel, ttl)
}

// Invalidate drops a key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()
	if c.client != nil {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.logger.Warn("cache: redis del failed", "key", key, "error", err)
		}
	}
}

// InvalidatePrefix drops all local keys with the prefix and the matching Redis
// keys. Used when an entity rename must flush every resolution that could have
// produced it.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) {
	c.mu.Lock()
	for k := range c.local {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.local, k)
		}
	}
	c.mu.Unlock()

	if c.client == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("cache: redis del failed", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("cache: redis scan failed", "prefix", prefix, "error", err)
	}
}

// PruneLocal drops expired local entries. Called periodically by the app.
func (c *Cache) PruneLocal() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.local {
		if !now.Before(e.expiresAt) {
			delete(c.local, k)
		}
	}
}

func (c *Cache) setLocal(key, value string, ttl time.Duration) {
	c.mu.Lock()
	c.local[key] = localEntry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}
