package provider

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProviderStatus represents the health state of a provider.
type ProviderStatus int

const (
	StatusHealthy   ProviderStatus = iota // Provider is working normally
	StatusDegraded                        // Provider is slow but working
	StatusThrottled                       // Provider is rate limiting
	StatusBlocked                         // Provider has blocked this client
)

func (s ProviderStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// MonitorStats holds monitoring statistics for a provider.
type MonitorStats struct {
	Status            ProviderStatus
	AverageLatency    time.Duration
	ThrottleCount429  int
	ThrottleCount403  int
	RequestsLast1Hour int
}

// ProviderMonitor tracks provider latency and rate limiting.
type ProviderMonitor struct {
	mu sync.RWMutex

	recentLatencies  []time.Duration
	maxLatencyWindow int

	status429Count     int
	status403Count     int
	throttlePatterns   []string
	lastThrottleTime   time.Time
	retryAfterDuration time.Duration

	requestTimestamps []time.Time
	windowDuration    time.Duration

	slowResponseThreshold time.Duration
	throttleThreshold     int
}

// NewProviderMonitor creates a new monitor with default settings.
func NewProviderMonitor() *ProviderMonitor {
	return &ProviderMonitor{
		recentLatencies:  make([]time.Duration, 0, 100),
		maxLatencyWindow: 100,
		throttlePatterns: []string{
			"rate limit exceeded",
			"too many requests",
			"exceeded the rate limit",
			"request limit",
		},
		windowDuration:        time.Hour,
		slowResponseThreshold: 3 * time.Second,
		throttleThreshold:     5,
	}
}

// RecordRequest records a successful request with its latency.
func (pm *ProviderMonitor) RecordRequest(latency time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	now := time.Now()

	pm.recentLatencies = append(pm.recentLatencies, latency)
	if len(pm.recentLatencies) > pm.maxLatencyWindow {
		pm.recentLatencies = pm.recentLatencies[1:]
	}

	pm.requestTimestamps = append(pm.requestTimestamps, now)

	// Timestamps are appended in order, so trim the expired prefix.
	cutoff := now.Add(-pm.windowDuration)
	i := 0
	for i < len(pm.requestTimestamps) && !pm.requestTimestamps[i].After(cutoff) {
		i++
	}
	pm.requestTimestamps = pm.requestTimestamps[i:]
}

// RecordThrottle records a rate limiting or blocking response.
func (pm *ProviderMonitor) RecordThrottle(statusCode int, retryAfter string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.lastThrottleTime = time.Now()

	switch statusCode {
	case 429:
		pm.status429Count++
		pm.retryAfterDuration = time.Minute
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			pm.retryAfterDuration = time.Duration(secs) * time.Second
		}
	case 403:
		pm.status403Count++
		pm.retryAfterDuration = 10 * time.Minute // Longer for IP block
	}
}

// DetectThrottlePattern checks if a message contains throttle patterns.
func (pm *ProviderMonitor) DetectThrottlePattern(message string) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	lowerMsg := strings.ToLower(message)
	for _, pattern := range pm.throttlePatterns {
		if strings.Contains(lowerMsg, pattern) {
			return true
		}
	}
	return false
}

// CheckProviderStatus returns the current status of the provider.
func (pm *ProviderMonitor) CheckProviderStatus() ProviderStatus {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.statusLocked()
}

func (pm *ProviderMonitor) statusLocked() ProviderStatus {
	inPenalty := time.Since(pm.lastThrottleTime) < pm.retryAfterDuration

	if pm.status403Count > 0 && inPenalty {
		return StatusBlocked
	}
	if pm.status429Count > pm.throttleThreshold && inPenalty {
		return StatusThrottled
	}
	if len(pm.recentLatencies) > 10 && pm.averageLatencyLocked() > pm.slowResponseThreshold {
		return StatusDegraded
	}
	return StatusHealthy
}

// GetRetryAfter returns remaining time before retry is allowed.
func (pm *ProviderMonitor) GetRetryAfter() time.Duration {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if remaining := pm.retryAfterDuration - time.Since(pm.lastThrottleTime); remaining > 0 {
		return remaining
	}
	return 0
}

// GetAverageLatency returns the average latency of recent requests.
func (pm *ProviderMonitor) GetAverageLatency() time.Duration {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.averageLatencyLocked()
}

func (pm *ProviderMonitor) averageLatencyLocked() time.Duration {
	if len(pm.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range pm.recentLatencies {
		total += lat
	}
	return total / time.Duration(len(pm.recentLatencies))
}

// GetStats returns current monitoring statistics.
func (pm *ProviderMonitor) GetStats() MonitorStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	return MonitorStats{
		Status:            pm.statusLocked(),
		AverageLatency:    pm.averageLatencyLocked(),
		ThrottleCount429:  pm.status429Count,
		ThrottleCount403:  pm.status403Count,
		RequestsLast1Hour: len(pm.requestTimestamps),
	}
}
