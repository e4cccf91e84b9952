package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/indexer-base/internal/indexing/extract"
	"github.com/vietddude/indexer-base/internal/indexing/metrics"
	"github.com/vietddude/indexer-base/internal/indexing/prefetch"
	"github.com/vietddude/indexer-base/internal/indexing/recovery"
	"github.com/vietddude/indexer-base/internal/indexing/writer"
)

// Pipeline implements the Indexer interface
type Pipeline struct {
	cfg Config
	log *slog.Logger

	running   atomic.Bool
	state     atomic.Value // string
	processed atomic.Uint64
	pending   atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPipeline creates a new indexing pipeline
func NewPipeline(cfg Config) *Pipeline {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	p := &Pipeline{
		cfg: cfg,
		log: slog.Default().With("component", "pipeline", "network", cfg.Network, "source", cfg.Source.Name()),
	}
	p.state.Store(StateIdle)
	return p
}

// Start runs the ingestion loop.
func (p *Pipeline) Start(ctx context.Context) (err error) {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline already running")
	}
	defer p.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	defer func() {
		if err != nil {
			p.state.Store(StateFailed)
			return
		}
		p.state.Store(StateStopped)
	}()

	start, err := p.cfg.Checkpoint.Load(ctx)
	if err != nil {
		return err
	}

	pfCfg := p.cfg.Prefetch
	pfCfg.Start = start
	pf := prefetch.New(ctx, p.cfg.Source, pfCfg)
	defer pf.Close()

	w := writer.New(p.cfg.Store, p.cfg.Checkpoint, p.cfg.Cache, writer.Config{
		Network:     p.cfg.Network,
		InsertLimit: p.cfg.InsertLimit,
		CacheTTL:    p.cfg.CacheTTL,
	})

	p.state.Store(StateRunning)
	p.log.Info("Pipeline started", "start", start, "end", pfCfg.End)

	// Commits already under way finish even when ctx is cancelled.
	storeCtx := context.WithoutCancel(ctx)

	expected := start
	var prevHash string
	for {
		fb, err := pf.NextBlock(ctx)
		if err != nil {
			if errors.Is(err, prefetch.ErrEndOfRange) || ctx.Err() != nil || errors.Is(err, prefetch.ErrClosed) {
				pf.Close()
				return p.drain(w)
			}
			// Fatal: the buffered batch is dropped and the checkpoint stays put.
			return p.fail(expected, err)
		}

		height := fb.Block.Height
		if height != expected {
			return p.fail(expected, fmt.Errorf("%w: expected height %d, got %d", recovery.ErrStructural, expected, height))
		}
		if prevHash != "" && fb.Block.PrevHash != prevHash {
			return p.fail(expected, fmt.Errorf("%w: block %d prev hash %s does not link to %s",
				recovery.ErrStructural, height, fb.Block.PrevHash, prevHash))
		}

		records, err := extract.ExtractFetched(fb)
		if err != nil {
			return p.fail(expected, err)
		}
		if err := w.Add(storeCtx, height, records); err != nil {
			return p.fail(expected, err)
		}

		p.processed.Store(height)
		p.pending.Store(int64(w.Pending()))
		p.observeTip()

		prevHash = fb.Block.Hash
		expected = height + 1
	}
}

// drain commits whatever is buffered with a bounded, uncancelled context.
func (p *Pipeline) drain(w *writer.Writer) error {
	p.state.Store(StateDraining)
	p.log.Info("Draining pipeline", "pending_blocks", w.PendingBlocks(), "pending_records", w.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownTimeout)
	defer cancel()

	if err := w.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush on shutdown: %w", err)
	}
	p.pending.Store(0)

	last, _ := p.cfg.Checkpoint.Last()
	p.log.Info("Pipeline stopped", "committed", last)
	return nil
}

func (p *Pipeline) fail(height uint64, err error) error {
	category := recovery.Classify(err)
	p.log.Error("Pipeline stopped on error",
		"height", height,
		"category", category.String(),
		"error", err,
	)
	return fmt.Errorf("block %d: %w", height, err)
}

func (p *Pipeline) observeTip() {
	if p.cfg.Tip == nil {
		return
	}
	if tip := p.cfg.Tip.Peek(); tip > 0 {
		metrics.ChainLatestBlock.WithLabelValues(p.cfg.Network).Set(float64(tip))
	}
}

// Stop stops the pipeline
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

// GetStatus returns the current status
func (p *Pipeline) GetStatus() Status {
	st := Status{
		Network:        p.cfg.Network,
		Source:         p.cfg.Source.Name(),
		State:          p.state.Load().(string),
		ProcessedBlock: p.processed.Load(),
		PendingRecords: int(p.pending.Load()),
	}
	if last, ok := p.cfg.Checkpoint.Last(); ok {
		st.CommittedBlock = last
	}
	if p.cfg.Tip != nil {
		st.LatestBlock = p.cfg.Tip.Peek()
		st.Lag = p.cfg.Checkpoint.Lag(st.LatestBlock)
	}
	st.BlocksPerSecond = p.cfg.Checkpoint.GetMetrics().BlocksPerSecond
	return st
}

var _ Indexer = (*Pipeline)(nil)
