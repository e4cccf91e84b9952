package throttle

import (
	"context"
	"sync"
	"testing"
	"time"
)

type mockTipSource struct {
	latest    uint64
	callCount int
}

func (m *mockTipSource) LatestHeight(ctx context.Context) (uint64, error) {
	m.callCount++
	return m.latest, nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *mapCache) Get(ctx context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *mapCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func TestTipCache_CachesWithinTTL(t *testing.T) {
	src := &mockTipSource{latest: 1000}
	cache := NewTipCache(src, nil, "tip", time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h, err := cache.Latest(ctx)
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if h != 1000 {
			t.Errorf("expected 1000, got %d", h)
		}
	}
	if src.callCount != 1 {
		t.Errorf("expected 1 source call, got %d", src.callCount)
	}

	cache.Invalidate()
	src.latest = 1010
	h, _ := cache.Latest(ctx)
	if h != 1010 {
		t.Errorf("expected 1010 after invalidate, got %d", h)
	}
	if src.callCount != 2 {
		t.Errorf("expected 2 source calls, got %d", src.callCount)
	}
}

func TestTipCache_ObserveIsMonotonic(t *testing.T) {
	shared := &mapCache{data: map[string]string{}}
	cache := NewTipCache(nil, shared, "tip", time.Minute)
	ctx := context.Background()

	cache.Observe(ctx, 500)
	cache.Observe(ctx, 400)

	h, _ := cache.Latest(ctx)
	if h != 500 {
		t.Errorf("expected tip to stay at 500, got %d", h)
	}
	if shared.data["tip"] != "500" {
		t.Errorf("expected shared tip 500, got %q", shared.data["tip"])
	}
}

func TestTipCache_ReadsSharedHint(t *testing.T) {
	shared := &mapCache{data: map[string]string{"tip": "777"}}
	cache := NewTipCache(nil, shared, "tip", time.Minute)

	h, err := cache.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if h != 777 {
		t.Errorf("expected 777 from shared cache, got %d", h)
	}
}
