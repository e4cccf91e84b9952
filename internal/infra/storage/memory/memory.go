// Package memory is an in-process store with the same contract as the
// PostgreSQL store. It backs dev runs without a database and the tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/infra/storage"
)

type chunkKey struct {
	height uint64
	shard  uint64
}

type eventKey struct {
	account string
	height  uint64
	kind    domain.AccountEventKind
}

// MemoryStorage keeps every table in maps guarded by one lock, so a commit
// is all-or-nothing.
type MemoryStorage struct {
	mu          sync.RWMutex
	blocks      map[uint64]domain.BlockRecord
	chunks      map[chunkKey]domain.ChunkRecord
	events      map[eventKey]domain.AccountEvent
	accounts    map[string]domain.Account
	checkpoints map[string]domain.Checkpoint
	commits     int

	// Fault injection for tests. Each hook fires once.
	failCommit  error
	failAdvance error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		blocks:      make(map[uint64]domain.BlockRecord),
		chunks:      make(map[chunkKey]domain.ChunkRecord),
		events:      make(map[eventKey]domain.AccountEvent),
		accounts:    make(map[string]domain.Account),
		checkpoints: make(map[string]domain.Checkpoint),
	}
}

// FailNextCommit makes the next CommitBatch return err without applying anything.
func (s *MemoryStorage) FailNextCommit(err error) {
	s.mu.Lock()
	s.failCommit = err
	s.mu.Unlock()
}

// FailNextAdvance makes the next Advance return err without moving the checkpoint.
func (s *MemoryStorage) FailNextAdvance(err error) {
	s.mu.Lock()
	s.failAdvance = err
	s.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Batch Store
// -----------------------------------------------------------------------------

func (s *MemoryStorage) CommitBatch(ctx context.Context, batch *domain.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failCommit; err != nil {
		s.failCommit = nil
		return err
	}

	s.applyLocked(batch.Blocks, batch.Chunks, batch.Events)
	s.commits++
	return nil
}

func (s *MemoryStorage) applyLocked(blocks []*domain.BlockRecord, chunks []*domain.ChunkRecord, events []*domain.AccountEvent) {
	for _, b := range blocks {
		s.blocks[b.BlockHeight] = *b
	}
	for _, c := range chunks {
		s.chunks[chunkKey{c.BlockHeight, c.ShardID}] = *c
	}
	for _, e := range events {
		s.events[eventKey{e.AccountID, e.BlockHeight, e.EventKind}] = *e
	}
	for _, a := range domain.FoldAccounts(events) {
		cur, ok := s.accounts[a.AccountID]
		if !ok {
			s.accounts[a.AccountID] = *a
			continue
		}
		cur.Merge(a)
		s.accounts[a.AccountID] = cur
	}
}

// -----------------------------------------------------------------------------
// Checkpoint Repository
// -----------------------------------------------------------------------------

func (s *MemoryStorage) Get(ctx context.Context, name string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[name]
	if !ok {
		return nil, storage.ErrCheckpointNotFound
	}
	return &cp, nil
}

func (s *MemoryStorage) Advance(ctx context.Context, name string, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failAdvance; err != nil {
		s.failAdvance = nil
		return err
	}

	cp, ok := s.checkpoints[name]
	if ok && cp.LastCommittedHeight > height {
		height = cp.LastCommittedHeight
	}
	s.checkpoints[name] = domain.Checkpoint{Name: name, LastCommittedHeight: height, UpdatedAt: time.Now()}
	return nil
}

func (s *MemoryStorage) Reset(ctx context.Context, name string, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[name] = domain.Checkpoint{Name: name, LastCommittedHeight: height, UpdatedAt: time.Now()}
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, name)
	return nil
}

// -----------------------------------------------------------------------------
// Genesis Store
// -----------------------------------------------------------------------------

type genesisWriter struct {
	store  *MemoryStorage
	events []*domain.AccountEvent
	done   bool
}

func (s *MemoryStorage) BeginGenesis(ctx context.Context) (storage.GenesisWriter, error) {
	return &genesisWriter{store: s}, nil
}

func (w *genesisWriter) WriteAccounts(ctx context.Context, height uint64, accounts []domain.GenesisAccount) error {
	for _, a := range accounts {
		w.events = append(w.events, a.Event(height))
	}
	return nil
}

// Commit applies everything staged so far in one step.
func (w *genesisWriter) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.applyLocked(nil, nil, w.events)
	return nil
}

func (w *genesisWriter) Rollback() error {
	w.done = true
	w.events = nil
	return nil
}

// -----------------------------------------------------------------------------
// Stats
// -----------------------------------------------------------------------------

func (s *MemoryStorage) Stats(ctx context.Context) (storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := storage.Stats{
		Blocks:        int64(len(s.blocks)),
		Chunks:        int64(len(s.chunks)),
		AccountEvents: int64(len(s.events)),
		Accounts:      int64(len(s.accounts)),
	}
	for h := range s.blocks {
		if h > st.LatestHeight {
			st.LatestHeight = h
		}
	}
	return st, nil
}

// Block returns a stored block row.
func (s *MemoryStorage) Block(height uint64) (domain.BlockRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[height]
	return b, ok
}

// Account returns a stored account row.
func (s *MemoryStorage) Account(id string) (domain.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	return a, ok
}

// Commits returns the number of successful batch commits.
func (s *MemoryStorage) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

func (s *MemoryStorage) Ping(ctx context.Context) error { return nil }
func (s *MemoryStorage) Close() error                   { return nil }

var _ storage.Store = (*MemoryStorage)(nil)
