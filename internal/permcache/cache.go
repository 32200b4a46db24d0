// Package permcache memoizes resolved permission sets behind a Redis
// generation key. Invalidation is wholesale: bumping the generation makes
// every existing entry unreachable at once, so no mutation path ever has to
// reason about partial invalidation.
package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const generationKey = "authz:perms:gen"

// Loader computes the resolved permission set on a cache miss.
type Loader func(ctx context.Context) ([]string, error)

// Set is a cached resolved permission set together with the generation it was
// computed under.
type Set struct {
	Names      []string `json:"names"`
	Generation int64    `json:"generation"`
}

// Has reports membership in the set.
func (s Set) Has(name string) bool {
	for _, n := range s.Names {
		if n == name {
			return true
		}
	}
	return false
}

// LookupObserver counts cache hits and misses. Optional.
type LookupObserver interface {
	RecordCacheLookup(hit bool)
}

// Cache wraps Redis based caching of resolved permission sets.
type Cache struct {
	client   *redis.Client
	ttl      time.Duration
	group    singleflight.Group
	observer LookupObserver
}

// New instantiates the cache helper. A nil client degrades to computing
// through the loader on every call, which keeps tests and single-shot tools
// working without Redis.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// WithObserver attaches a hit/miss observer and returns the cache.
func (c *Cache) WithObserver(observer LookupObserver) *Cache {
	c.observer = observer
	return c
}

func (c *Cache) observe(hit bool) {
	if c != nil && c.observer != nil {
		c.observer.RecordCacheLookup(hit)
	}
}

// Generation returns the current cache generation, initialising when missing.
func (c *Cache) Generation(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, generationKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if gen <= 0 {
		gen = 1
		if err := c.client.Set(ctx, generationKey, gen, 0).Err(); err != nil {
			return 0, err
		}
	}
	return gen, nil
}

// Lookup returns the cached resolved set for the principal key, computing and
// storing it via the loader on a miss. Concurrent misses for the same key are
// collapsed into a single loader call.
func (c *Cache) Lookup(ctx context.Context, principalKey string, loader Loader) (Set, error) {
	if loader == nil {
		return Set{}, errors.New("permcache: loader required")
	}
	if c == nil || c.client == nil {
		names, err := loader(ctx)
		if err != nil {
			return Set{}, err
		}
		return Set{Names: names}, nil
	}
	gen, err := c.Generation(ctx)
	if err != nil {
		return Set{}, err
	}
	key := fmt.Sprintf("authz:perms:%s:%d", principalKey, gen)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var set Set
		if err := json.Unmarshal(payload, &set); err != nil {
			return Set{}, err
		}
		c.observe(true)
		return set, nil
	}
	if err != redis.Nil {
		return Set{}, err
	}
	c.observe(false)
	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		names, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		set := Set{Names: names, Generation: gen}
		raw, err := json.Marshal(set)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return set, nil
	})
	if err != nil {
		return Set{}, err
	}
	return value.(Set), nil
}

// InvalidateAll drops every cached entry by incrementing the generation.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, generationKey).Err()
}
