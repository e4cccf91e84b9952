package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned when another writer owns the lease.
var ErrLeaseHeld = errors.New("writer lease held by another process")

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease guards against a second writer on the same network. A process that
// finds the lease held by another owner refuses to start. The relational
// store stays the source of truth, so a lost lease is only logged.
type Lease struct {
	cache *Cache
	key   string
	owner string
	ttl   time.Duration
}

// NewLease creates a lease on key owned by a fresh random token.
func (c *Cache) NewLease(key string, ttl time.Duration) *Lease {
	return &Lease{
		cache: c,
		key:   c.key(key),
		owner: uuid.NewString(),
		ttl:   ttl,
	}
}

// Owner returns the token identifying this process.
func (l *Lease) Owner() string { return l.owner }

// Acquire takes the lease. It returns ErrLeaseHeld when another owner has it
// and the underlying error when the cache is unreachable.
func (l *Lease) Acquire(ctx context.Context) error {
	ok, err := l.cache.rdb.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		holder, _ := l.cache.rdb.Get(ctx, l.key).Result()
		if holder == l.owner {
			return nil
		}
		ttl, _ := l.cache.rdb.PTTL(ctx, l.key).Result()
		l.cache.log.Warn("Writer lease held by another process", "key", l.key, "holder", holder, "ttl", ttl)
		return heldError(holder, ttl)
	}
	return nil
}

func heldError(holder string, ttl time.Duration) error {
	if ttl > 0 {
		return fmt.Errorf("%w: holder %s, expires in %s", ErrLeaseHeld, holder, ttl.Round(time.Millisecond))
	}
	return fmt.Errorf("%w: holder %s", ErrLeaseHeld, holder)
}

// Refresh extends the lease if still owned.
func (l *Lease) Refresh(ctx context.Context) (bool, error) {
	n, err := refreshScript.Run(ctx, l.cache.rdb, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh lease: %w", err)
	}
	return n == 1, nil
}

// Release drops the lease if still owned.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.cache.rdb, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Keep refreshes the lease every ttl/3 until ctx is done, then releases it.
func (l *Lease) Keep(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := l.Release(releaseCtx); err != nil {
				l.cache.log.Debug("Lease release failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			owned, err := l.Refresh(ctx)
			if err != nil {
				l.cache.log.Debug("Lease refresh failed", "error", err)
				continue
			}
			if !owned {
				if err := l.Acquire(ctx); err != nil {
					l.cache.log.Warn("Writer lease lost", "key", l.key, "error", err)
				}
			}
		}
	}
}
