package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/infra/storage"
)

// =============================================================================
// Mock Repository
// =============================================================================

type mockCheckpointRepo struct {
	mu          sync.Mutex
	checkpoints map[string]uint64
	advances    int
	failAdvance error
}

func newMockCheckpointRepo() *mockCheckpointRepo {
	return &mockCheckpointRepo{checkpoints: make(map[string]uint64)}
}

func (r *mockCheckpointRepo) Get(ctx context.Context, name string) (*domain.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.checkpoints[name]
	if !ok {
		return nil, storage.ErrCheckpointNotFound
	}
	return &domain.Checkpoint{Name: name, LastCommittedHeight: h}, nil
}

func (r *mockCheckpointRepo) Advance(ctx context.Context, name string, height uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAdvance != nil {
		return r.failAdvance
	}
	r.advances++
	if height > r.checkpoints[name] {
		r.checkpoints[name] = height
	}
	return nil
}

func (r *mockCheckpointRepo) Reset(ctx context.Context, name string, height uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints[name] = height
	return nil
}

func (r *mockCheckpointRepo) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkpoints, name)
	return nil
}

// =============================================================================
// Tests
// =============================================================================

func TestLoad_NoCheckpointReturnsGenesis(t *testing.T) {
	m := NewManager(newMockCheckpointRepo(), Config{Name: "base", GenesisHeight: 9820210, Delta: 1000})

	h, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if h != 9820210 {
		t.Errorf("expected genesis height 9820210, got %d", h)
	}

	exists, err := m.Exists(context.Background())
	if err != nil || exists {
		t.Errorf("expected no checkpoint, got exists=%v err=%v", exists, err)
	}
}

func TestLoad_RewindsByDelta(t *testing.T) {
	repo := newMockCheckpointRepo()
	repo.checkpoints["base"] = 1_004_237
	m := NewManager(repo, Config{Name: "base", Delta: 1000})

	h, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if h != 1_003_237 {
		t.Errorf("expected resume at 1003237, got %d", h)
	}
}

func TestLoad_StartOverride(t *testing.T) {
	repo := newMockCheckpointRepo()
	repo.checkpoints["base"] = 500
	m := NewManager(repo, Config{Name: "base", Delta: 100, StartOverride: 42})

	h, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if h != 42 {
		t.Errorf("expected override 42, got %d", h)
	}
}

func TestResumeHeight(t *testing.T) {
	tests := []struct {
		last, delta, floor, want uint64
	}{
		{1_004_237, 1000, 0, 1_003_237},
		{500, 1000, 0, 0},
		{1000, 1000, 0, 0},
		{9_820_500, 1000, 9_820_210, 9_820_210},
		{9_830_000, 1000, 9_820_210, 9_829_000},
	}
	for _, tt := range tests {
		if got := ResumeHeight(tt.last, tt.delta, tt.floor); got != tt.want {
			t.Errorf("ResumeHeight(%d, %d, %d) = %d, want %d", tt.last, tt.delta, tt.floor, got, tt.want)
		}
	}
}

func TestAdvance(t *testing.T) {
	ctx := context.Background()
	repo := newMockCheckpointRepo()
	m := NewManager(repo, Config{Name: "base", Delta: 10})

	if err := m.Advance(ctx, 100); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if err := m.Advance(ctx, 100); err != nil {
		t.Errorf("re-advancing to the same height should succeed: %v", err)
	}
	if err := m.Advance(ctx, 99); !errors.Is(err, ErrRegression) {
		t.Errorf("expected ErrRegression, got %v", err)
	}
	if repo.checkpoints["base"] != 100 {
		t.Errorf("expected stored checkpoint 100, got %d", repo.checkpoints["base"])
	}
	if last, ok := m.Last(); !ok || last != 100 {
		t.Errorf("expected Last 100, got %d (%v)", last, ok)
	}
	if lag := m.Lag(150); lag != 50 {
		t.Errorf("expected lag 50, got %d", lag)
	}
}

func TestAdvance_StoreFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	repo := newMockCheckpointRepo()
	m := NewManager(repo, Config{Name: "base", Delta: 10})

	m.Advance(ctx, 10)
	repo.failAdvance = errors.New("db down")

	if err := m.Advance(ctx, 20); err == nil {
		t.Fatal("expected error")
	}
	if last, _ := m.Last(); last != 10 {
		t.Errorf("failed advance moved in-memory state to %d", last)
	}
}

func TestMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector(3)
	start := time.Now()

	mc.RecordBlock(100, start)
	mc.RecordBlock(200, start.Add(time.Second))
	mc.RecordBlock(300, start.Add(2*time.Second))
	mc.RecordBlock(400, start.Add(3*time.Second))

	m := mc.GetMetrics()
	if m.LastHeight != 400 {
		t.Errorf("expected last height 400, got %d", m.LastHeight)
	}
	if m.BlocksPerSecond < 99 || m.BlocksPerSecond > 101 {
		t.Errorf("expected ~100 blocks/s, got %f", m.BlocksPerSecond)
	}

	mc.Reset()
	if got := mc.GetMetrics(); got.LastHeight != 0 {
		t.Errorf("expected empty metrics after reset, got %+v", got)
	}
}
