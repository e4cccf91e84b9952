// Package indexer runs the ingestion loop: prefetched blocks are checked for
// contiguity, extracted and committed in strict height order.
package indexer

import (
	"context"
	"time"

	"github.com/vietddude/indexer-base/internal/core/checkpoint"
	"github.com/vietddude/indexer-base/internal/indexing/prefetch"
	"github.com/vietddude/indexer-base/internal/indexing/throttle"
	"github.com/vietddude/indexer-base/internal/indexing/writer"
	"github.com/vietddude/indexer-base/internal/infra/chain"
	"github.com/vietddude/indexer-base/internal/infra/storage"
)

// Indexer is the main orchestrator that coordinates all components
type Indexer interface {
	// Start runs until the context ends, Stop is called, the configured end
	// height is committed or a fatal error occurs.
	Start(ctx context.Context) error

	// Stop requests a graceful shutdown: the current batch is committed and
	// the checkpoint advanced before Start returns.
	Stop() error

	// GetStatus returns current indexing status
	GetStatus() Status
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	Network         string
	Source          string
	State           string
	CommittedBlock  uint64 // last checkpointed height, 0 = none this run
	ProcessedBlock  uint64 // last extracted height
	LatestBlock     uint64 // chain tip if known
	Lag             uint64
	PendingRecords  int
	BlocksPerSecond float64
}

// Pipeline states.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateDraining = "draining"
	StateStopped  = "stopped"
	StateFailed   = "failed"
)

// Config holds indexer configuration
type Config struct {
	Network    string
	Source     chain.Source
	Store      storage.BatchStore
	Checkpoint *checkpoint.Manager
	Cache      writer.HintCache   // optional
	Tip        *throttle.TipCache // optional

	Prefetch        prefetch.Config // Start is taken from the checkpoint
	InsertLimit     int
	CacheTTL        time.Duration
	ShutdownTimeout time.Duration // bound on the final flush (default: 30s)
}
