package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/indexing/recovery"
	"github.com/vietddude/indexer-base/internal/infra/chain"
)

// fakeSource serves every height up to tip. Heights in notYet fail with
// ErrNotYetAvailable the given number of times first.
type fakeSource struct {
	mu      sync.Mutex
	tip     uint64
	notYet  map[uint64]int
	fatalAt uint64
	delay   func(h uint64) time.Duration
	fetched map[uint64]int
	block   chan struct{} // when set, every fetch waits on it or ctx
}

func newFakeSource(tip uint64) *fakeSource {
	return &fakeSource{tip: tip, notYet: make(map[uint64]int), fetched: make(map[uint64]int)}
}

func (s *fakeSource) Name() string { return "FAKE" }

func (s *fakeSource) FetchBlock(ctx context.Context, height uint64) (*domain.FetchedBlock, error) {
	s.mu.Lock()
	s.fetched[height]++
	wait := s.block
	var d time.Duration
	if s.delay != nil {
		d = s.delay(height)
	}
	s.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d > 0 {
		time.Sleep(d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatalAt != 0 && height == s.fatalAt {
		return nil, fmt.Errorf("height %d: %w", height, chain.ErrFatalSource)
	}
	if n := s.notYet[height]; n > 0 {
		s.notYet[height] = n - 1
		return nil, chain.ErrNotYetAvailable
	}
	if height > s.tip {
		return nil, chain.ErrNotYetAvailable
	}
	return &domain.FetchedBlock{Block: &domain.Block{Height: height, Hash: fmt.Sprintf("h%d", height)}}, nil
}

func (s *fakeSource) distinctFetched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fetched)
}

func testConfig(start uint64) Config {
	cfg := DefaultConfig(start)
	cfg.Window = 10
	cfg.Workers = 4
	cfg.Backoff = &recovery.ExponentialBackoff{
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Classifier:   recovery.Classify,
	}
	return cfg
}

func TestPrefetcher_DeliversInOrder(t *testing.T) {
	src := newFakeSource(200)
	// Later heights finish first.
	src.delay = func(h uint64) time.Duration { return time.Duration(200-h%7) * 10 * time.Microsecond }

	p := New(context.Background(), src, testConfig(100))
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for want := uint64(100); want < 150; want++ {
		b, err := p.NextBlock(ctx)
		if err != nil {
			t.Fatalf("NextBlock at %d failed: %v", want, err)
		}
		if b.Block.Height != want {
			t.Fatalf("expected height %d, got %d", want, b.Block.Height)
		}
	}
}

func TestPrefetcher_RetriesNotYetAvailable(t *testing.T) {
	src := newFakeSource(200)
	src.notYet[3] = 5

	p := New(context.Background(), src, testConfig(1))
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for want := uint64(1); want <= 6; want++ {
		b, err := p.NextBlock(ctx)
		if err != nil {
			t.Fatalf("NextBlock at %d failed: %v", want, err)
		}
		if b.Block.Height != want {
			t.Fatalf("expected height %d, got %d", want, b.Block.Height)
		}
	}
}

func TestPrefetcher_WaitsAtTip(t *testing.T) {
	src := newFakeSource(3)
	p := New(context.Background(), src, testConfig(1))
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		if _, err := p.NextBlock(ctx); err != nil {
			t.Fatalf("NextBlock failed: %v", err)
		}
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		src.mu.Lock()
		src.tip = 4
		src.mu.Unlock()
	}()

	b, err := p.NextBlock(ctx)
	if err != nil {
		t.Fatalf("NextBlock after tip moved failed: %v", err)
	}
	if b.Block.Height != 4 {
		t.Errorf("expected height 4, got %d", b.Block.Height)
	}
}

func TestPrefetcher_FatalStopsAtHeight(t *testing.T) {
	src := newFakeSource(200)
	src.fatalAt = 5

	p := New(context.Background(), src, testConfig(1))
	defer p.Close()

	ctx := context.Background()
	for want := uint64(1); want < 5; want++ {
		b, err := p.NextBlock(ctx)
		if err != nil {
			t.Fatalf("NextBlock at %d failed: %v", want, err)
		}
		if b.Block.Height != want {
			t.Fatalf("expected height %d, got %d", want, b.Block.Height)
		}
	}

	if _, err := p.NextBlock(ctx); !errors.Is(err, chain.ErrFatalSource) {
		t.Fatalf("expected fatal source error at height 5, got %v", err)
	}
	if src.fetched[5] != 1 {
		t.Errorf("fatal height should be fetched once, got %d", src.fetched[5])
	}
}

func TestPrefetcher_WindowBackpressure(t *testing.T) {
	src := newFakeSource(10_000)
	cfg := testConfig(1)

	p := New(context.Background(), src, cfg)
	defer p.Close()

	time.Sleep(50 * time.Millisecond)
	if n := src.distinctFetched(); n > cfg.Window {
		t.Fatalf("fetched %d heights with window %d and no consumer", n, cfg.Window)
	}

	if _, err := p.NextBlock(context.Background()); err != nil {
		t.Fatalf("NextBlock failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := src.distinctFetched(); n > cfg.Window+1 {
		t.Fatalf("fetched %d heights after one delivery with window %d", n, cfg.Window)
	}
}

func TestPrefetcher_EndOfRange(t *testing.T) {
	src := newFakeSource(200)
	cfg := testConfig(10)
	cfg.End = 12

	p := New(context.Background(), src, cfg)
	defer p.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := p.NextBlock(ctx); err != nil {
			t.Fatalf("NextBlock failed: %v", err)
		}
	}
	if _, err := p.NextBlock(ctx); !errors.Is(err, ErrEndOfRange) {
		t.Fatalf("expected ErrEndOfRange, got %v", err)
	}
}

func TestPrefetcher_CloseCancelsFetches(t *testing.T) {
	src := newFakeSource(200)
	src.block = make(chan struct{}) // never released

	p := New(context.Background(), src, testConfig(1))

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel blocked fetches")
	}

	if _, err := p.NextBlock(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}
