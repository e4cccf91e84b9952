// Package checkpoint tracks durable ingestion progress and decides where a
// run resumes.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/indexer-base/internal/indexing/metrics"
	"github.com/vietddude/indexer-base/internal/infra/storage"
)

var (
	// ErrRegression is returned when Advance is asked to move below a height
	// already advanced in this run.
	ErrRegression = errors.New("checkpoint regression")
)

// Config controls resume behaviour.
type Config struct {
	Name          string
	GenesisHeight uint64
	Delta         uint64
	StartOverride uint64 // 0 = resume from the stored checkpoint
}

// Manager loads and advances the checkpoint.
type Manager struct {
	repo storage.CheckpointRepository
	cfg  Config
	log  *slog.Logger

	mu        sync.RWMutex
	last      uint64
	advanced  bool
	collector *MetricsCollector
}

// NewManager creates a checkpoint manager.
func NewManager(repo storage.CheckpointRepository, cfg Config) *Manager {
	return &Manager{
		repo:      repo,
		cfg:       cfg,
		log:       slog.Default().With("component", "checkpoint", "name", cfg.Name),
		collector: NewMetricsCollector(100),
	}
}

// ResumeHeight returns max(floor, last-delta) without underflow.
func ResumeHeight(last, delta, floor uint64) uint64 {
	if last <= delta || last-delta < floor {
		return floor
	}
	return last - delta
}

// Exists reports whether a checkpoint has ever been written.
func (m *Manager) Exists(ctx context.Context) (bool, error) {
	_, err := m.repo.Get(ctx, m.cfg.Name)
	if errors.Is(err, storage.ErrCheckpointNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Load returns the first height this run should fetch.
func (m *Manager) Load(ctx context.Context) (uint64, error) {
	if m.cfg.StartOverride != 0 {
		m.log.Warn("Start height override set, ignoring checkpoint", "start", m.cfg.StartOverride)
		return m.cfg.StartOverride, nil
	}

	cp, err := m.repo.Get(ctx, m.cfg.Name)
	if errors.Is(err, storage.ErrCheckpointNotFound) {
		m.log.Info("No checkpoint, starting at genesis", "height", m.cfg.GenesisHeight)
		return m.cfg.GenesisHeight, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	resume := ResumeHeight(cp.LastCommittedHeight, m.cfg.Delta, m.cfg.GenesisHeight)
	metrics.CheckpointHeight.WithLabelValues(m.cfg.Name).Set(float64(cp.LastCommittedHeight))
	m.log.Info("Resuming from checkpoint",
		"last_committed", cp.LastCommittedHeight,
		"delta", m.cfg.Delta,
		"resume", resume,
	)
	return resume, nil
}

// Advance durably records that every height up to and including height is
// committed. It returns only after the store acknowledged the write.
func (m *Manager) Advance(ctx context.Context, height uint64) error {
	m.mu.RLock()
	if m.advanced && height < m.last {
		last := m.last
		m.mu.RUnlock()
		return fmt.Errorf("%w: advance to %d after %d", ErrRegression, height, last)
	}
	m.mu.RUnlock()

	if err := m.repo.Advance(ctx, m.cfg.Name, height); err != nil {
		return fmt.Errorf("failed to advance checkpoint to %d: %w", height, err)
	}

	m.mu.Lock()
	m.last = height
	m.advanced = true
	m.collector.RecordBlock(height, time.Now())
	m.mu.Unlock()

	metrics.CheckpointHeight.WithLabelValues(m.cfg.Name).Set(float64(height))
	return nil
}

// Last returns the last height advanced in this run and whether any was.
func (m *Manager) Last() (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.advanced
}

// Lag returns how far the checkpoint trails tip.
func (m *Manager) Lag(tip uint64) uint64 {
	last, ok := m.Last()
	if !ok || tip <= last {
		return 0
	}
	return tip - last
}

// GetMetrics returns throughput over recent advances.
func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collector.GetMetrics()
}
