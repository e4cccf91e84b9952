package redis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// unreachable points at a port nothing listens on.
func unreachable(t *testing.T) *Cache {
	t.Helper()
	c, err := NewCache(context.Background(), Config{URL: "redis://127.0.0.1:1/0"}, "test")
	if err != nil {
		t.Fatalf("NewCache should not fail when redis is down: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_DegradesToMiss(t *testing.T) {
	c := unreachable(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.Set(ctx, "latest_block", "100", time.Minute)

	if v, ok := c.Get(ctx, "latest_block"); ok {
		t.Errorf("expected miss from unreachable cache, got %q", v)
	}

	_, misses, failures := c.Stats()
	if misses != 1 {
		t.Errorf("expected 1 miss, got %d", misses)
	}
	if failures != 2 {
		t.Errorf("expected 2 failures, got %d", failures)
	}
}

func TestLease_UnreachableReturnsError(t *testing.T) {
	c := unreachable(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l := c.NewLease("writer", time.Second)
	if l.Owner() == "" {
		t.Fatal("expected owner token")
	}
	if err := l.Acquire(ctx); err == nil {
		t.Error("expected error acquiring lease on unreachable cache")
	}
}

func TestParseSentinelAddrs(t *testing.T) {
	addrs, err := parseSentinelAddrs("10.0.0.1:26379, redis://10.0.0.2:26379 ,,10.0.0.3:26379")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"10.0.0.1:26379", "10.0.0.2:26379", "10.0.0.3:26379"}
	if len(addrs) != len(want) {
		t.Fatalf("expected %v, got %v", want, addrs)
	}
	for i := range want {
		if addrs[i] != want[i] {
			t.Errorf("addr %d: expected %s, got %s", i, want[i], addrs[i])
		}
	}

	if _, err := parseSentinelAddrs(" , "); err == nil {
		t.Error("expected error for empty sentinel list")
	}
}

func TestConfigTopology(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		enabled  bool
		sentinel bool
	}{
		{"empty", Config{}, false, false},
		{"url", Config{URL: "redis://localhost:6379"}, true, false},
		{"sentinel", Config{SentinelName: "mymaster", SentinelURLs: "a:1"}, true, true},
		{"sentinel name only", Config{SentinelName: "mymaster"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Enabled(); got != tt.enabled {
				t.Errorf("Enabled() = %v, want %v", got, tt.enabled)
			}
			if got := tt.cfg.Sentinel(); got != tt.sentinel {
				t.Errorf("Sentinel() = %v, want %v", got, tt.sentinel)
			}
		})
	}
}

func TestNewCache_RequiresAddress(t *testing.T) {
	if _, err := NewCache(context.Background(), Config{}, ""); err == nil {
		t.Error("expected error without url or sentinels")
	}
}

func TestHeldError(t *testing.T) {
	err := heldError("a1b2", 12345*time.Millisecond)
	if !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
	if !strings.Contains(err.Error(), "holder a1b2") || !strings.Contains(err.Error(), "expires in 12.345s") {
		t.Errorf("expected holder and ttl in %q", err)
	}

	// PTTL answers -1 for a key without expiry.
	if err := heldError("a1b2", -time.Millisecond); strings.Contains(err.Error(), "expires") {
		t.Errorf("no expiry expected in %q", err)
	}
}
