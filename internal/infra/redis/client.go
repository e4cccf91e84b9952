// Package redis implements the cache coordinator on top of Redis, either a
// single primary or a sentinel-managed failover group.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/indexer-base/internal/indexing/metrics"
)

// Config holds Redis connection configuration.
type Config struct {
	URL          string `yaml:"url"`
	Password     string `yaml:"password"`
	SentinelName string `yaml:"sentinel_name"`
	SentinelURLs string `yaml:"sentinel_urls"` // comma-separated host:port or redis:// URLs
}

// Enabled reports whether any backing store is configured.
func (c Config) Enabled() bool {
	return c.URL != "" || (c.SentinelName != "" && c.SentinelURLs != "")
}

// Sentinel reports whether the failover topology is configured.
func (c Config) Sentinel() bool {
	return c.SentinelName != "" && c.SentinelURLs != ""
}

// Cache is an advisory key/value cache. Every failure degrades to a miss;
// nothing here is allowed to fail ingestion.
type Cache struct {
	rdb    redis.UniversalClient
	prefix string
	log    *slog.Logger

	hits     atomic.Uint64
	misses   atomic.Uint64
	failures atomic.Uint64
}

// NewCache builds a client for cfg and pings it. A failed ping is logged,
// not returned: the client keeps reconnecting in the background.
func NewCache(ctx context.Context, cfg Config, prefix string) (*Cache, error) {
	rdb, err := newUniversalClient(cfg)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		rdb:    rdb,
		prefix: prefix,
		log:    slog.Default().With("component", "cache"),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		c.log.Warn("Cache unreachable at startup, continuing without it", "error", err)
	}
	return c, nil
}

// NewCacheFromClient wraps an existing client.
func NewCacheFromClient(rdb redis.UniversalClient, prefix string) *Cache {
	return &Cache{
		rdb:    rdb,
		prefix: prefix,
		log:    slog.Default().With("component", "cache"),
	}
}

func newUniversalClient(cfg Config) (redis.UniversalClient, error) {
	if cfg.Sentinel() {
		addrs, err := parseSentinelAddrs(cfg.SentinelURLs)
		if err != nil {
			return nil, err
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.SentinelName,
			SentinelAddrs:    addrs,
			Password:         cfg.Password,
			SentinelPassword: cfg.Password,
			DialTimeout:      2 * time.Second,
			ReadTimeout:      time.Second,
			WriteTimeout:     time.Second,
		}), nil
	}

	if cfg.URL == "" {
		return nil, errors.New("redis: url or sentinel configuration required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	return redis.NewClient(opts), nil
}

// parseSentinelAddrs accepts "host:port,host:port" or redis:// URLs.
func parseSentinelAddrs(raw string) ([]string, error) {
	var addrs []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "://") {
			opts, err := redis.ParseURL(part)
			if err != nil {
				return nil, fmt.Errorf("invalid sentinel url %q: %w", part, err)
			}
			part = opts.Addr
		}
		addrs = append(addrs, part)
	}
	if len(addrs) == 0 {
		return nil, errors.New("redis: no sentinel addresses")
	}
	return addrs, nil
}

func (c *Cache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Get returns the value and true on a hit. Errors are treated as misses.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.rdb.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		metrics.CacheRequests.WithLabelValues("get", "miss").Inc()
		return "", false
	}
	if err != nil {
		c.failures.Add(1)
		c.misses.Add(1)
		metrics.CacheRequests.WithLabelValues("get", "error").Inc()
		c.log.Debug("Cache get failed", "key", key, "error", err)
		return "", false
	}
	c.hits.Add(1)
	metrics.CacheRequests.WithLabelValues("get", "hit").Inc()
	return val, true
}

// Set stores value under key with ttl. Errors are logged and dropped.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.rdb.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		c.failures.Add(1)
		metrics.CacheRequests.WithLabelValues("set", "error").Inc()
		c.log.Debug("Cache set failed", "key", key, "error", err)
		return
	}
	metrics.CacheRequests.WithLabelValues("set", "ok").Inc()
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Stats returns hit, miss and error counters.
func (c *Cache) Stats() (hits, misses, errs uint64) {
	return c.hits.Load(), c.misses.Load(), c.failures.Load()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
