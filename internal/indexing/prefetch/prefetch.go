// Package prefetch fetches blocks ahead of the consumer with a fixed worker
// pool and hands them over in strict height order.
package prefetch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/indexing/metrics"
	"github.com/vietddude/indexer-base/internal/indexing/recovery"
	"github.com/vietddude/indexer-base/internal/infra/chain"
)

// ErrEndOfRange is returned by NextBlock after the configured end height.
var ErrEndOfRange = errors.New("end of range")

// ErrClosed is returned by NextBlock after Close.
var ErrClosed = errors.New("prefetcher closed")

// Config controls the look-ahead window.
type Config struct {
	Start   uint64
	End     uint64 // inclusive, 0 = follow the chain forever
	Window  int    // max blocks fetched ahead of the consumer (default: 100)
	Workers int    // concurrent fetches (default: 8)
	Backoff *recovery.ExponentialBackoff
}

// DefaultConfig returns the default window and pool size.
func DefaultConfig(start uint64) Config {
	return Config{
		Start:   start,
		Window:  100,
		Workers: 8,
		Backoff: recovery.DefaultBackoff(nil),
	}
}

type slot struct {
	height uint64
	done   chan struct{}
	block  *domain.FetchedBlock
	err    error
}

// Prefetcher keeps up to Window blocks in flight.
type Prefetcher struct {
	source chain.Source
	cfg    Config
	log    *slog.Logger

	slots  chan *slot
	jobs   chan *slot
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	closeOnce sync.Once
	mu        sync.Mutex
	next      uint64
}

// New starts the dispatcher and the workers. Fetching begins immediately.
func New(ctx context.Context, source chain.Source, cfg Config) *Prefetcher {
	if cfg.Window <= 0 {
		cfg.Window = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Backoff == nil {
		cfg.Backoff = recovery.DefaultBackoff(nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	p := &Prefetcher{
		source: source,
		cfg:    cfg,
		log:    slog.Default().With("component", "prefetch", "source", source.Name()),
		slots:  make(chan *slot, cfg.Window),
		jobs:   make(chan *slot),
		ctx:    gctx,
		cancel: cancel,
		g:      g,
		next:   cfg.Start,
	}

	g.Go(func() error { return p.dispatch(gctx) })
	for i := 0; i < cfg.Workers; i++ {
		g.Go(func() error { return p.work(gctx) })
	}

	p.log.Info("Prefetcher started",
		"start", cfg.Start,
		"end", cfg.End,
		"window", cfg.Window,
		"workers", cfg.Workers,
	)
	return p
}

// dispatch assigns heights in order. A full slots channel blocks it.
func (p *Prefetcher) dispatch(ctx context.Context) error {
	defer close(p.slots)
	defer close(p.jobs)

	for h := p.cfg.Start; p.cfg.End == 0 || h <= p.cfg.End; h++ {
		s := &slot{height: h, done: make(chan struct{})}

		select {
		case p.slots <- s:
		case <-ctx.Done():
			return nil
		}
		metrics.PrefetchBuffered.Set(float64(len(p.slots)))

		select {
		case p.jobs <- s:
		case <-ctx.Done():
			s.err = ctx.Err()
			close(s.done)
			return nil
		}
	}
	return nil
}

func (p *Prefetcher) work(ctx context.Context) error {
	for s := range p.jobs {
		s.block, s.err = p.fetch(ctx, s.height)
		close(s.done)
	}
	return nil
}

// fetch retries transient failures until the block arrives, a fatal error
// occurs or ctx ends.
func (p *Prefetcher) fetch(ctx context.Context, height uint64) (*domain.FetchedBlock, error) {
	name := p.source.Name()
	var block *domain.FetchedBlock

	err := p.cfg.Backoff.Retry(ctx, func() error {
		start := time.Now()
		b, err := p.source.FetchBlock(ctx, height)
		metrics.SourceFetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		block = b
		return nil
	}, func(err error, wait time.Duration) {
		reason := "transient"
		if errors.Is(err, chain.ErrNotYetAvailable) {
			reason = "not_yet_available"
		}
		metrics.SourceRetries.WithLabelValues(name, reason).Inc()
		p.log.Debug("Retrying block", "height", height, "reason", reason, "wait", wait, "error", err)
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

// NextBlock returns the block at the next height, waiting for it if needed.
// Heights are delivered exactly once and strictly in order.
func (p *Prefetcher) NextBlock(ctx context.Context) (*domain.FetchedBlock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s *slot
	select {
	case next, ok := <-p.slots:
		if !ok {
			if p.cfg.End != 0 && p.next > p.cfg.End {
				return nil, ErrEndOfRange
			}
			return nil, ErrClosed
		}
		s = next
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	metrics.PrefetchBuffered.Set(float64(len(p.slots)))

	select {
	case <-s.done:
	case <-ctx.Done():
		// The slot is lost; the caller must not continue with this prefetcher.
		return nil, ctx.Err()
	}

	if s.err != nil {
		if p.ctx.Err() != nil && errors.Is(s.err, context.Canceled) {
			return nil, ErrClosed
		}
		return nil, s.err
	}
	p.next = s.height + 1
	return s.block, nil
}

// Close cancels every fetch in flight and waits for the workers to exit.
func (p *Prefetcher) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		_ = p.g.Wait()
		metrics.PrefetchBuffered.Set(0)
		p.log.Info("Prefetcher stopped")
	})
	return nil
}
