package throttle

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/vietddude/indexer-base/internal/infra/chain"
)

// SharedCache is the subset of the cache coordinator the tip cache needs.
type SharedCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// TipCache caches the latest known chain height to reduce redundant source
// calls near the tip. The tip never moves backwards, so a stale value is
// still a valid lower bound.
type TipCache struct {
	source chain.TipSource // optional
	shared SharedCache     // optional
	key    string
	ttl    time.Duration

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
}

// NewTipCache creates a tip cache with the given TTL. source and shared may be nil.
func NewTipCache(source chain.TipSource, shared SharedCache, key string, ttl time.Duration) *TipCache {
	return &TipCache{
		source: source,
		shared: shared,
		key:    key,
		ttl:    ttl,
	}
}

// Latest returns the cached tip if within TTL, otherwise consults the shared
// cache and then the source.
func (c *TipCache) Latest(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if time.Since(c.cachedAt) < c.ttl && c.cached > 0 {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if c.shared != nil {
		if v, ok := c.shared.Get(ctx, c.key); ok {
			if h, err := strconv.ParseUint(v, 10, 64); err == nil {
				c.store(h)
				return c.current(), nil
			}
		}
	}

	if c.source != nil {
		head, err := c.source.LatestHeight(ctx)
		if err != nil {
			return 0, err
		}
		c.Observe(ctx, head)
	}
	return c.current(), nil
}

// Peek returns the last known tip without any I/O. Zero means unknown.
func (c *TipCache) Peek() uint64 {
	return c.current()
}

func (c *TipCache) current() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached
}

// Observe records that height exists on chain.
func (c *TipCache) Observe(ctx context.Context, height uint64) {
	if !c.store(height) {
		return
	}
	if c.shared != nil {
		c.shared.Set(ctx, c.key, strconv.FormatUint(height, 10), c.ttl)
	}
}

func (c *TipCache) store(height uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height < c.cached {
		return false
	}
	advanced := height > c.cached
	c.cached = height
	c.cachedAt = time.Now()
	return advanced
}

// Invalidate clears the freshness, forcing the next call to look further.
func (c *TipCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
