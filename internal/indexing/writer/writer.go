// Package writer buffers extracted records and commits them in atomic
// batches, advancing the checkpoint after each durable commit.
package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/indexing/metrics"
	"github.com/vietddude/indexer-base/internal/indexing/recovery"
	"github.com/vietddude/indexer-base/internal/infra/storage"
)

// Cache keys written after every commit for downstream readers.
const (
	KeyLatestHeight = "latest_block_height"
	KeyLatestBlock  = "latest_block"
)

// Advancer records durable progress.
type Advancer interface {
	Advance(ctx context.Context, height uint64) error
}

// HintCache receives best-effort hints. It must never fail a commit.
type HintCache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// Config controls batching.
type Config struct {
	Network     string
	InsertLimit int           // records per batch (default: 1000)
	CacheTTL    time.Duration // hint expiry (default: 5m)
}

// Writer accumulates whole blocks and commits them in order.
// It is owned by a single goroutine.
type Writer struct {
	store storage.BatchStore
	cp    Advancer
	cache HintCache // optional
	cfg   Config
	log   *slog.Logger

	batch     *domain.Batch
	blocks    int // heights in batch
	lastBlock *domain.BlockRecord
	next      uint64
	started   bool
}

// New creates a batch writer.
func New(store storage.BatchStore, cp Advancer, cache HintCache, cfg Config) *Writer {
	if cfg.InsertLimit <= 0 {
		cfg.InsertLimit = 1000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Writer{
		store: store,
		cp:    cp,
		cache: cache,
		cfg:   cfg,
		log:   slog.Default().With("component", "writer", "network", cfg.Network),
		batch: &domain.Batch{},
	}
}

// Add buffers every record of the block at height and commits when the
// buffer reaches the insert limit. Heights must be added consecutively.
func (w *Writer) Add(ctx context.Context, height uint64, records []domain.Record) error {
	if w.started && height != w.next {
		return fmt.Errorf("%w: writer expected height %d, got %d", recovery.ErrStructural, w.next, height)
	}

	// Sort the block into its own batch first so a rejected record leaves
	// the buffer untouched.
	var block domain.Batch
	for _, r := range records {
		if r.Height() != height {
			return fmt.Errorf("%w: record %s at height %d in block %d", recovery.ErrStructural, r.Key(), r.Height(), height)
		}
		if err := block.Append(r); err != nil {
			return fmt.Errorf("%w: block %d: %w", recovery.ErrStructural, height, err)
		}
	}
	w.batch.Merge(&block)
	if n := len(block.Blocks); n > 0 {
		w.lastBlock = block.Blocks[n-1]
	}
	if w.blocks == 0 {
		w.batch.FromHeight = height
	}
	w.batch.ToHeight = height
	w.blocks++
	w.next = height + 1
	w.started = true

	if w.batch.Len() >= w.cfg.InsertLimit {
		return w.Flush(ctx)
	}
	return nil
}

// Pending returns the number of buffered records.
func (w *Writer) Pending() int {
	return w.batch.Len()
}

// PendingBlocks returns the number of buffered heights.
func (w *Writer) PendingBlocks() int {
	return w.blocks
}

// Flush commits the buffered blocks, then advances the checkpoint to the
// last of them. An empty buffer is a no-op.
func (w *Writer) Flush(ctx context.Context) error {
	if w.blocks == 0 {
		return nil
	}
	batch := w.batch

	start := time.Now()
	err := w.store.CommitBatch(ctx, batch)
	if errors.Is(err, storage.ErrReplayConflict) {
		w.log.Warn("Commit conflicted, replaying batch once",
			"from", batch.FromHeight,
			"to", batch.ToHeight,
			"error", err,
		)
		err = w.store.CommitBatch(ctx, batch)
	}
	metrics.BatchCommitDuration.WithLabelValues(w.cfg.Network).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BatchCommits.WithLabelValues(w.cfg.Network, "error").Inc()
		return fmt.Errorf("failed to commit batch %d-%d: %w", batch.FromHeight, batch.ToHeight, err)
	}
	metrics.BatchCommits.WithLabelValues(w.cfg.Network, "ok").Inc()

	if err := w.cp.Advance(ctx, batch.ToHeight); err != nil {
		return err
	}

	w.record(batch, w.blocks)
	w.hint(ctx, batch.ToHeight)
	w.log.Debug("Batch committed",
		"from", batch.FromHeight,
		"to", batch.ToHeight,
		"records", batch.Len(),
		"duration", time.Since(start),
	)

	w.batch = &domain.Batch{}
	w.blocks = 0
	return nil
}

func (w *Writer) record(batch *domain.Batch, blocks int) {
	n := w.cfg.Network
	metrics.BlocksProcessed.WithLabelValues(n).Add(float64(blocks))
	metrics.RecordsWritten.WithLabelValues(n, string(domain.RecordKindBlock)).Add(float64(len(batch.Blocks)))
	metrics.RecordsWritten.WithLabelValues(n, string(domain.RecordKindChunk)).Add(float64(len(batch.Chunks)))
	metrics.RecordsWritten.WithLabelValues(n, string(domain.RecordKindAccountEvent)).Add(float64(len(batch.Events)))
	metrics.IndexerLatestBlock.WithLabelValues(n).Set(float64(batch.ToHeight))
}

func (w *Writer) hint(ctx context.Context, height uint64) {
	if w.cache == nil {
		return
	}
	w.cache.Set(ctx, KeyLatestHeight, strconv.FormatUint(height, 10), w.cfg.CacheTTL)
	if w.lastBlock == nil || w.lastBlock.BlockHeight != height {
		return
	}
	raw, err := json.Marshal(w.lastBlock)
	if err != nil {
		w.log.Debug("Failed to encode block hint", "error", err)
		return
	}
	w.cache.Set(ctx, KeyLatestBlock, string(raw), w.cfg.CacheTTL)
}
