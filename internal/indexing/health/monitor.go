package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/indexer-base/internal/indexing/indexer"
	"github.com/vietddude/indexer-base/internal/indexing/metrics"
)

// StatusProvider reports pipeline progress.
type StatusProvider interface {
	GetStatus() indexer.Status
}

// TipFetcher fetches the latest chain height.
type TipFetcher interface {
	Latest(ctx context.Context) (uint64, error)
}

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Thresholds decide when lag turns into degradation.
type Thresholds struct {
	DegradedLag uint64 // default: 100
	CriticalLag uint64 // default: 1000
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	status     StatusProvider
	tip        TipFetcher // optional
	db         Pinger
	cache      Pinger // optional
	thresholds Thresholds
	interval   time.Duration
	log        *slog.Logger

	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.RWMutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(
	status StatusProvider,
	tip TipFetcher,
	db Pinger,
	cache Pinger,
	thresholds Thresholds,
) *Monitor {
	if thresholds.DegradedLag == 0 {
		thresholds.DegradedLag = 100
	}
	if thresholds.CriticalLag == 0 {
		thresholds.CriticalLag = 1000
	}
	return &Monitor{
		status:     status,
		tip:        tip,
		db:         db,
		cache:      cache,
		thresholds: thresholds,
		interval:   10 * time.Second,
		log:        slog.Default().With("component", "health"),
	}
}

// CheckHealth builds a report. Results are reused for a short interval so
// frequent probes do not hit the chain or the database.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.interval {
		return *m.lastReport
	}

	st := m.status.GetStatus()
	ih := IndexerHealth{
		Network:         st.Network,
		Source:          st.Source,
		State:           st.State,
		Status:          StatusHealthy,
		CommittedBlock:  st.CommittedBlock,
		ProcessedBlock:  st.ProcessedBlock,
		LatestBlock:     st.LatestBlock,
		BlockLag:        st.Lag,
		PendingRecords:  st.PendingRecords,
		BlocksPerSecond: st.BlocksPerSecond,
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// 1. Block lag
	if m.tip != nil {
		latest, err := m.tip.Latest(checkCtx)
		if err != nil {
			m.log.Debug("Failed to fetch chain tip", "error", err)
			ih.Status = StatusDegraded
		} else if latest > 0 {
			ih.LatestBlock = latest
			metrics.ChainLatestBlock.WithLabelValues(st.Network).Set(float64(latest))
			if latest > st.CommittedBlock && st.CommittedBlock > 0 {
				ih.BlockLag = latest - st.CommittedBlock
			}
		}
	}
	switch {
	case st.State == indexer.StateFailed:
		ih.Status = StatusCritical
	case ih.BlockLag > m.thresholds.CriticalLag:
		ih.Status = StatusCritical
	case ih.BlockLag > m.thresholds.DegradedLag:
		ih.Status = StatusDegraded
	}

	report := HealthReport{
		SystemStatus: ih.Status,
		Indexer:      ih,
		Database:     DependencyOK,
		Cache:        DependencyDisabled,
	}

	// 2. Database: the source of truth, so an outage is critical.
	if err := m.db.Ping(checkCtx); err != nil {
		m.log.Warn("Database ping failed", "error", err)
		report.Database = DependencyUnavailable
		report.SystemStatus = StatusCritical
	}

	// 3. Cache: advisory only, never worse than degraded.
	if m.cache != nil {
		report.Cache = DependencyOK
		if err := m.cache.Ping(checkCtx); err != nil {
			report.Cache = DependencyUnavailable
			if report.SystemStatus == StatusHealthy {
				report.SystemStatus = StatusDegraded
			}
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}
