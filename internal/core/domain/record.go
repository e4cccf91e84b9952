package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownRecord is returned for a Record kind the batch cannot store.
var ErrUnknownRecord = errors.New("unknown record kind")

// RecordKind tags the variants of an extracted record.
type RecordKind string

const (
	RecordKindBlock        RecordKind = "block"
	RecordKindChunk        RecordKind = "chunk"
	RecordKindAccountEvent RecordKind = "account_event"
)

// Record is a typed, upsertable row extracted from a block.
// Key is unique within a kind.
type Record interface {
	Kind() RecordKind
	Height() uint64
	Key() string
}

// BlockRecord is the canonical row for a block.
type BlockRecord struct {
	BlockHeight uint64
	BlockHash   string
	PrevHash    string
	Timestamp   uint64
	Author      string
	GasPrice    string
	ChunksCount int
	GasUsed     uint64
}

func (r *BlockRecord) Kind() RecordKind { return RecordKindBlock }
func (r *BlockRecord) Height() uint64   { return r.BlockHeight }
func (r *BlockRecord) Key() string      { return fmt.Sprintf("%d", r.BlockHeight) }

// ChunkRecord is the canonical row for a chunk.
type ChunkRecord struct {
	BlockHeight   uint64
	ShardID       uint64
	ChunkHash     string
	BlockHash     string
	Author        string
	GasUsed       uint64
	GasLimit      uint64
	TxCount       int
	ReceiptsCount int
}

func (r *ChunkRecord) Kind() RecordKind { return RecordKindChunk }
func (r *ChunkRecord) Height() uint64   { return r.BlockHeight }
func (r *ChunkRecord) Key() string      { return fmt.Sprintf("%d:%d", r.BlockHeight, r.ShardID) }

// AccountEventKind describes what happened to an account in a block.
type AccountEventKind string

const (
	AccountEventGenesis  AccountEventKind = "genesis"
	AccountEventBalance  AccountEventKind = "balance"
	AccountEventDeleted  AccountEventKind = "deleted"
	AccountEventSigner   AccountEventKind = "signer"
	AccountEventReceiver AccountEventKind = "receiver"
)

// AccountEvent is a derived per-account change at a block height.
type AccountEvent struct {
	AccountID   string
	BlockHeight uint64
	EventKind   AccountEventKind
	ShardID     uint64
	Amount      string
	Locked      string
	Count       int
}

func (r *AccountEvent) Kind() RecordKind { return RecordKindAccountEvent }
func (r *AccountEvent) Height() uint64   { return r.BlockHeight }
func (r *AccountEvent) Key() string {
	return fmt.Sprintf("%s:%d:%s", r.AccountID, r.BlockHeight, r.EventKind)
}

// Batch is a group of records for a contiguous height range.
type Batch struct {
	FromHeight uint64
	ToHeight   uint64
	Blocks     []*BlockRecord
	Chunks     []*ChunkRecord
	Events     []*AccountEvent
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	return len(b.Blocks) + len(b.Chunks) + len(b.Events)
}

// Append sorts a record into its kind bucket.
func (b *Batch) Append(r Record) error {
	switch rec := r.(type) {
	case *BlockRecord:
		b.Blocks = append(b.Blocks, rec)
	case *ChunkRecord:
		b.Chunks = append(b.Chunks, rec)
	case *AccountEvent:
		b.Events = append(b.Events, rec)
	default:
		return fmt.Errorf("%w: %T (%s)", ErrUnknownRecord, r, r.Kind())
	}
	return nil
}

// Merge moves every record of o into b.
func (b *Batch) Merge(o *Batch) {
	b.Blocks = append(b.Blocks, o.Blocks...)
	b.Chunks = append(b.Chunks, o.Chunks...)
	b.Events = append(b.Events, o.Events...)
}
