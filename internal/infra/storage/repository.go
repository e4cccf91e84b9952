// Package storage defines the persistence boundary of the indexer. The
// relational store is the single source of truth; implementations must make
// every write idempotent.
package storage

import (
	"context"
	"errors"

	"github.com/vietddude/indexer-base/internal/core/domain"
)

var (
	// ErrCheckpointNotFound is returned when no checkpoint has been written yet.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrReplayConflict marks a commit failure that may mean the rows were
	// already applied (unique violation, serialization failure). Callers
	// retry such a commit once.
	ErrReplayConflict = errors.New("replay conflict")
)

// BatchStore persists extracted records.
type BatchStore interface {
	// CommitBatch writes every record of the batch and the account state it
	// implies in one transaction. Either everything is visible or nothing is.
	CommitBatch(ctx context.Context, batch *domain.Batch) error
}

// CheckpointRepository stores ingestion progress.
type CheckpointRepository interface {
	// Get returns ErrCheckpointNotFound when absent.
	Get(ctx context.Context, name string) (*domain.Checkpoint, error)

	// Advance raises the checkpoint to height. It never lowers it.
	Advance(ctx context.Context, name string, height uint64) error

	// Reset sets the checkpoint to exactly height (operator tool).
	Reset(ctx context.Context, name string, height uint64) error

	// Delete removes the checkpoint so the next run bootstraps again.
	Delete(ctx context.Context, name string) error
}

// GenesisStore writes the genesis baseline.
type GenesisStore interface {
	// BeginGenesis opens a writer whose rows become visible only on Commit.
	BeginGenesis(ctx context.Context) (GenesisWriter, error)
}

// GenesisWriter accumulates genesis accounts inside one transaction.
type GenesisWriter interface {
	WriteAccounts(ctx context.Context, height uint64, accounts []domain.GenesisAccount) error
	Commit() error
	// Rollback is safe to call after Commit.
	Rollback() error
}

// Stats is a summary of stored rows, used by status and health reporting.
type Stats struct {
	Blocks        int64
	Chunks        int64
	AccountEvents int64
	Accounts      int64
	LatestHeight  uint64
}

// StatsReader reports store contents.
type StatsReader interface {
	Stats(ctx context.Context) (Stats, error)
}

// Store is everything the indexer needs from persistence.
type Store interface {
	BatchStore
	CheckpointRepository
	GenesisStore
	StatsReader
	Ping(ctx context.Context) error
	Close() error
}
