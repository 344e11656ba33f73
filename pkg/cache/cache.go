// Package cache implements the Archive Cache (C6): a bounded, shared
// cache of built archive.Index values keyed by object identity, using a
// ristretto cache with a singleflight-deduped builder on miss
// (github.com/beam-cloud/ristretto + golang.org/x/sync/singleflight).
// Admission and eviction follow ristretto's frequency-based (TinyLFU)
// policy; entries are not evicted in strict least-recently-used order.
package cache

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/beam-cloud/ristretto"

	"github.com/beam-cloud/vafs/pkg/archive"
)

// DefaultCapacity is the default number of archive indexes the cache holds,
// chosen as a round working-set size rather than a byte budget: every Index
// is stored with a cost of 1 regardless of how many entries it holds, so
// MaxCost below is a count of indexes (not a byte size).
const DefaultCapacity = 100

// Builder constructs an archive.Index for a (bucket, key) pair on a cache
// miss. Handlers' BuildIndex method satisfies this signature directly.
type Builder func(ctx context.Context, bucket, key string) (*archive.Index, error)

// Cache is the Archive Cache (C6). A miss may race: singleflight collapses
// concurrent misses for the same key into one Builder call, rather than
// serializing builds across distinct keys or letting them duplicate work.
type Cache struct {
	c     *ristretto.Cache[string, *archive.Index]
	group singleflight.Group
}

// New builds a Cache with the given capacity (entry count). A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int64) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	rc, err := ristretto.NewCache(&ristretto.Config[string, *archive.Index]{
		NumCounters: capacity * 10,
		MaxCost:     capacity,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("construct archive index cache: %w", err)
	}

	return &Cache{c: rc}, nil
}

// Key forms the cache key for a (bucket, key) object, matching the
// store://bucket/key identifiers used in error messages throughout.
func Key(bucket, key string) string {
	return fmt.Sprintf("store://%s/%s", bucket, key)
}

// Get fetches an Index for bucket/key, building it with build on a miss. A
// successful build is inserted with cost 1 before being returned.
func (c *Cache) Get(ctx context.Context, bucket, key string, build Builder) (*archive.Index, error) {
	ck := Key(bucket, key)

	if idx, ok := c.c.Get(ck); ok {
		return idx, nil
	}

	v, err, shared := c.group.Do(ck, func() (interface{}, error) {
		idx, err := build(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		c.c.Set(ck, idx, 1)
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Str("key", ck).Msg("archive index build request coalesced by singleflight")
	}
	return v.(*archive.Index), nil
}

// Clear drops every cached index.
func (c *Cache) Clear() {
	c.c.Clear()
}

// Len reports how many indexes are currently resident. Ristretto's admission
// policy is probabilistic, so this is an approximation shortly after writes.
func (c *Cache) Len() int {
	return int(c.c.Metrics.KeysAdded() - c.c.Metrics.KeysEvicted())
}

// Invalidate drops a single cached index, used when a caller knows the
// backing object changed underneath the cache.
func (c *Cache) Invalidate(bucket, key string) {
	c.c.Del(Key(bucket, key))
}
