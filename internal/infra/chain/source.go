// Package chain defines the block source boundary between the indexer and the
// transports that deliver NEAR blocks.
package chain

import (
	"context"
	"errors"

	"github.com/vietddude/indexer-base/internal/core/domain"
)

var (
	// ErrNotYetAvailable is returned for heights beyond the current chain tip.
	// Callers retry with backoff.
	ErrNotYetAvailable = errors.New("block not yet available")

	// ErrTransient wraps transport failures (timeouts, 5xx, broken reads)
	// that say nothing about the block. Callers retry with backoff.
	ErrTransient = errors.New("transient source error")

	// ErrFatalSource is returned when data that must exist is missing or
	// unreadable. Callers stop.
	ErrFatalSource = errors.New("fatal source error")
)

// Source retrieves a single block and its chunks by height.
// Sequencing is the caller's job.
type Source interface {
	// FetchBlock returns the block at height with its chunks ordered by shard.
	FetchBlock(ctx context.Context, height uint64) (*domain.FetchedBlock, error)

	// Name identifies the variant for logs and metrics.
	Name() string
}

// TipSource is implemented by sources that can report the latest height.
type TipSource interface {
	LatestHeight(ctx context.Context) (uint64, error)
}
