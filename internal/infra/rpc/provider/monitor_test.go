package provider

import (
	"testing"
	"time"
)

func TestMonitorAccumulates(t *testing.T) {
	m := NewProviderMonitor()

	m.RecordRequest(100 * time.Millisecond)

	stats := m.GetStats()
	if stats.RequestsLast1Hour != 1 {
		t.Errorf("Expected 1 request, got %d", stats.RequestsLast1Hour)
	}

	for i := 0; i < 100; i++ {
		m.RecordRequest(50 * time.Millisecond)
	}

	stats = m.GetStats()
	if stats.RequestsLast1Hour != 101 {
		t.Errorf("Expected 101 requests, got %d", stats.RequestsLast1Hour)
	}
	if stats.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", stats.Status)
	}
}

func TestMonitorThrottle(t *testing.T) {
	m := NewProviderMonitor()

	for i := 0; i < 6; i++ {
		m.RecordThrottle(429, "30")
	}
	if got := m.CheckProviderStatus(); got != StatusThrottled {
		t.Errorf("Expected throttled, got %s", got)
	}
	if ra := m.GetRetryAfter(); ra <= 0 || ra > 30*time.Second {
		t.Errorf("Unexpected retry after %v", ra)
	}

	m.RecordThrottle(403, "")
	if got := m.CheckProviderStatus(); got != StatusBlocked {
		t.Errorf("Expected blocked, got %s", got)
	}
}

func TestDetectThrottlePattern(t *testing.T) {
	m := NewProviderMonitor()
	if !m.DetectThrottlePattern("Rate limit exceeded for this key") {
		t.Error("expected throttle pattern match")
	}
	if m.DetectThrottlePattern("UNKNOWN_BLOCK") {
		t.Error("unexpected throttle pattern match")
	}
}
