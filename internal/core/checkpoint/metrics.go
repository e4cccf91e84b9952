package checkpoint

import (
	"time"
)

// advanceRecord holds timing data for one checkpoint advance.
type advanceRecord struct {
	Height     uint64
	AdvancedAt time.Time
}

// Metrics holds checkpoint throughput data.
type Metrics struct {
	BlocksPerSecond   float64
	AverageAdvanceGap time.Duration
	LastHeight        uint64
	LastAdvancedAt    time.Time
}

// MetricsCollector tracks advance throughput over a sliding window.
type MetricsCollector struct {
	windowSize int
	records    []advanceRecord
}

// NewMetricsCollector creates a collector keeping windowSize advances.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	return &MetricsCollector{
		windowSize: windowSize,
		records:    make([]advanceRecord, 0, windowSize),
	}
}

// RecordBlock records an advance to height.
func (mc *MetricsCollector) RecordBlock(height uint64, at time.Time) {
	record := advanceRecord{Height: height, AdvancedAt: at}

	if len(mc.records) >= mc.windowSize {
		// Shift elements left, drop oldest
		copy(mc.records, mc.records[1:])
		mc.records[len(mc.records)-1] = record
	} else {
		mc.records = append(mc.records, record)
	}
}

// GetMetrics returns current metrics. Heights, not advance calls, drive the
// rate because one advance covers a whole batch.
func (mc *MetricsCollector) GetMetrics() Metrics {
	var m Metrics
	if len(mc.records) == 0 {
		return m
	}

	last := mc.records[len(mc.records)-1]
	m.LastHeight = last.Height
	m.LastAdvancedAt = last.AdvancedAt

	if len(mc.records) >= 2 {
		first := mc.records[0]
		duration := last.AdvancedAt.Sub(first.AdvancedAt)
		if duration > 0 && last.Height > first.Height {
			m.BlocksPerSecond = float64(last.Height-first.Height) / duration.Seconds()
			m.AverageAdvanceGap = duration / time.Duration(len(mc.records)-1)
		}
	}
	return m
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.records = mc.records[:0]
}
