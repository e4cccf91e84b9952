package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vietddude/indexer-base/internal/core/checkpoint"
	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/indexing/prefetch"
	"github.com/vietddude/indexer-base/internal/indexing/recovery"
	"github.com/vietddude/indexer-base/internal/indexing/throttle"
	"github.com/vietddude/indexer-base/internal/infra/chain"
	redisclient "github.com/vietddude/indexer-base/internal/infra/redis"
	"github.com/vietddude/indexer-base/internal/infra/storage"
	"github.com/vietddude/indexer-base/internal/infra/storage/memory"
)

// mockSource serves a deterministic chain up to tip.
type mockSource struct {
	mu       sync.Mutex
	tip      uint64
	override map[uint64]*domain.FetchedBlock
}

func newMockSource(tip uint64) *mockSource {
	return &mockSource{tip: tip, override: make(map[uint64]*domain.FetchedBlock)}
}

func (m *mockSource) Name() string { return "MOCK" }

func (m *mockSource) FetchBlock(ctx context.Context, height uint64) (*domain.FetchedBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fb, ok := m.override[height]; ok {
		return fb, nil
	}
	if height > m.tip {
		return nil, chain.ErrNotYetAvailable
	}
	return mockBlock(height), nil
}

func mockBlock(h uint64) *domain.FetchedBlock {
	signer := fmt.Sprintf("acc%d.near", h%3)
	return &domain.FetchedBlock{
		Block: &domain.Block{
			Height:       h,
			Hash:         fmt.Sprintf("h%d", h),
			PrevHash:     fmt.Sprintf("h%d", h-1),
			ChunkHeaders: []domain.ChunkHeader{{ChunkHash: fmt.Sprintf("c%d", h), ShardID: 0, GasUsed: 10}},
		},
		Chunks: []*domain.Chunk{{
			BlockHeight:  h,
			ShardID:      0,
			ChunkHash:    fmt.Sprintf("c%d", h),
			Transactions: []domain.Transaction{{Hash: fmt.Sprintf("t%d", h), SignerID: signer, ReceiverID: "app.near"}},
			StateChanges: []domain.StateChange{{Type: domain.StateChangeAccountUpdate, AccountID: signer, Amount: fmt.Sprint(h)}},
		}},
	}
}

func testPipeline(store *memory.MemoryStorage, src *mockSource, start, end, delta uint64, limit int) *Pipeline {
	cp := checkpoint.NewManager(store, checkpoint.Config{Name: "test", GenesisHeight: start, Delta: delta})

	pf := prefetch.DefaultConfig(0)
	pf.End = end
	pf.Window = 8
	pf.Workers = 3
	pf.Backoff = &recovery.ExponentialBackoff{
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Classifier:   recovery.Classify,
	}

	return NewPipeline(Config{
		Network:         "testnet",
		Source:          src,
		Store:           store,
		Checkpoint:      cp,
		Prefetch:        pf,
		InsertLimit:     limit,
		ShutdownTimeout: time.Second,
	})
}

func lastCommitted(t *testing.T, store *memory.MemoryStorage) uint64 {
	t.Helper()
	cp, err := store.Get(context.Background(), "test")
	if errors.Is(err, storage.ErrCheckpointNotFound) {
		return 0
	}
	if err != nil {
		t.Fatalf("Get checkpoint failed: %v", err)
	}
	return cp.LastCommittedHeight
}

func TestPipeline_IndexesRange(t *testing.T) {
	store := memory.NewMemoryStorage()
	p := testPipeline(store, newMockSource(100), 1, 40, 10, 7)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if got := lastCommitted(t, store); got != 40 {
		t.Errorf("expected checkpoint 40, got %d", got)
	}
	st, _ := store.Stats(context.Background())
	if st.Blocks != 40 || st.Chunks != 40 || st.LatestHeight != 40 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if st.Accounts != 3 { // only balance changes create account rows
		t.Errorf("expected 3 accounts, got %d", st.Accounts)
	}
	if status := p.GetStatus(); status.State != StateStopped || status.CommittedBlock != 40 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestPipeline_HeightGapIsStructural(t *testing.T) {
	store := memory.NewMemoryStorage()
	src := newMockSource(100)
	src.override[5] = mockBlock(6) // source answers 5 with the block at 6

	p := testPipeline(store, src, 1, 20, 10, 1000)
	err := p.Start(context.Background())
	if !errors.Is(err, recovery.ErrStructural) {
		t.Fatalf("expected structural error, got %v", err)
	}
	if got := lastCommitted(t, store); got != 0 {
		t.Errorf("checkpoint moved on structural failure: %d", got)
	}
	if p.GetStatus().State != StateFailed {
		t.Errorf("expected failed state, got %s", p.GetStatus().State)
	}
}

func TestPipeline_BrokenHashLinkIsStructural(t *testing.T) {
	store := memory.NewMemoryStorage()
	src := newMockSource(100)
	forked := mockBlock(8)
	forked.Block.PrevHash = "other"
	src.override[8] = forked

	p := testPipeline(store, src, 1, 20, 10, 1000)
	if err := p.Start(context.Background()); !errors.Is(err, recovery.ErrStructural) {
		t.Fatalf("expected structural error, got %v", err)
	}
}

func TestPipeline_InvalidBlockStops(t *testing.T) {
	store := memory.NewMemoryStorage()
	src := newMockSource(100)
	bad := mockBlock(3)
	bad.Chunks = nil // header lists a chunk that is missing
	src.override[3] = bad

	p := testPipeline(store, src, 1, 20, 10, 1)
	err := p.Start(context.Background())
	if recovery.Classify(err) != recovery.CategoryStructural {
		t.Fatalf("expected structural category, got %v", err)
	}
	if got := lastCommitted(t, store); got != 2 {
		t.Errorf("expected checkpoint at last good block 2, got %d", got)
	}
	if _, ok := store.Block(3); ok {
		t.Error("invalid block must not be stored")
	}
}

// A crash after commit but before the checkpoint write is recovered by the
// delta rewind, and the overlap leaves row counts unchanged.
func TestPipeline_CrashBetweenCommitAndAdvance(t *testing.T) {
	ctx := context.Background()
	src := newMockSource(1000)

	store := memory.NewMemoryStorage()
	if err := testPipeline(store, src, 1, 30, 10, 20).Start(ctx); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if got := lastCommitted(t, store); got != 30 {
		t.Fatalf("expected checkpoint 30, got %d", got)
	}

	// Without a rewind the second run commits 30..33, then dies before the
	// checkpoint write.
	store.FailNextAdvance(errors.New("process killed"))
	if err := testPipeline(store, src, 1, 60, 0, 20).Start(ctx); err == nil {
		t.Fatal("expected crash")
	}
	if got := lastCommitted(t, store); got != 30 {
		t.Fatalf("checkpoint moved during crash: %d", got)
	}
	if _, ok := store.Block(33); !ok {
		t.Fatal("expected block 33 committed before the crash")
	}

	// Restart resumes at 30-10 = 20 and re-ingests the overlap.
	if err := testPipeline(store, src, 1, 60, 10, 20).Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	reference := memory.NewMemoryStorage()
	if err := testPipeline(reference, src, 1, 60, 10, 20).Start(ctx); err != nil {
		t.Fatalf("reference run failed: %v", err)
	}

	got, _ := store.Stats(ctx)
	want, _ := reference.Stats(ctx)
	if got != want {
		t.Errorf("overlap changed row counts: got %+v, want %+v", got, want)
	}
	a, _ := store.Account("acc0.near")
	b, _ := reference.Account("acc0.near")
	if a != b {
		t.Errorf("account state diverged: %+v vs %+v", a, b)
	}
}

func TestPipeline_CacheUnavailable(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	cache := redisclient.NewCacheFromClient(rdb, "test")
	defer cache.Close()

	store := memory.NewMemoryStorage()
	p := testPipeline(store, newMockSource(100), 1, 25, 10, 5)
	p.cfg.Cache = cache
	p.cfg.Tip = throttle.NewTipCache(nil, cache, "tip", time.Second)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("cache outage failed ingestion: %v", err)
	}
	if got := lastCommitted(t, store); got != 25 {
		t.Errorf("expected checkpoint 25, got %d", got)
	}
	if _, _, errs := cache.Stats(); errs == 0 {
		t.Error("expected cache errors to be counted")
	}
}

func TestPipeline_StopDrains(t *testing.T) {
	store := memory.NewMemoryStorage()
	p := testPipeline(store, newMockSource(1_000_000), 1, 0, 10, 1_000_000)

	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()

	deadline := time.After(5 * time.Second)
	for p.GetStatus().ProcessedBlock < 20 {
		select {
		case <-deadline:
			t.Fatal("pipeline made no progress")
		case <-time.After(time.Millisecond):
		}
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start returned %v after Stop", err)
	}

	committed := lastCommitted(t, store)
	if committed < 20 {
		t.Fatalf("expected drained checkpoint >= 20, got %d", committed)
	}
	st, _ := store.Stats(context.Background())
	if st.LatestHeight != committed || uint64(st.Blocks) != committed {
		t.Errorf("store and checkpoint disagree: %+v vs %d", st, committed)
	}
}

func TestPipeline_ResumeFromCheckpoint(t *testing.T) {
	store := memory.NewMemoryStorage()
	if err := store.Advance(context.Background(), "test", 50); err != nil {
		t.Fatal(err)
	}

	p := testPipeline(store, newMockSource(100), 1, 60, 10, 1000)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, ok := store.Block(39); ok {
		t.Error("block below resume height was fetched")
	}
	if _, ok := store.Block(40); !ok {
		t.Error("expected block 40 (checkpoint - delta) to be stored")
	}
}
