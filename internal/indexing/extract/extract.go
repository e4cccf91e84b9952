// Package extract turns a fetched block into the records the store keeps.
// Extraction is pure: no I/O and no shared state.
package extract

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vietddude/indexer-base/internal/core/domain"
)

// ErrInvalidBlock is wrapped by every extraction error.
var ErrInvalidBlock = errors.New("invalid block")

// Error describes a structurally invalid block.
type Error struct {
	Height uint64
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid block %d: %s", e.Height, e.Reason)
}

func (e *Error) Unwrap() error { return ErrInvalidBlock }

func invalid(height uint64, format string, args ...any) error {
	return &Error{Height: height, Reason: fmt.Sprintf(format, args...)}
}

type eventKey struct {
	account string
	kind    domain.AccountEventKind
}

// Extract validates the block and returns one BlockRecord, one ChunkRecord
// per chunk header and the folded account events.
func Extract(block *domain.Block, chunks []*domain.Chunk) ([]domain.Record, error) {
	if block == nil {
		return nil, &Error{Reason: "nil block"}
	}
	if block.Hash == "" {
		return nil, invalid(block.Height, "empty block hash")
	}

	byShard := make(map[uint64]*domain.Chunk, len(chunks))
	for _, c := range chunks {
		if c == nil {
			return nil, invalid(block.Height, "nil chunk")
		}
		if c.BlockHeight != block.Height {
			return nil, invalid(block.Height, "chunk for shard %d belongs to height %d", c.ShardID, c.BlockHeight)
		}
		if _, dup := byShard[c.ShardID]; dup {
			return nil, invalid(block.Height, "duplicate chunk for shard %d", c.ShardID)
		}
		byShard[c.ShardID] = c
	}

	records := make([]domain.Record, 0, 1+len(block.ChunkHeaders)+8)
	blockRec := &domain.BlockRecord{
		BlockHeight: block.Height,
		BlockHash:   block.Hash,
		PrevHash:    block.PrevHash,
		Timestamp:   block.Timestamp,
		Author:      block.Author,
		GasPrice:    block.GasPrice,
		ChunksCount: len(block.ChunkHeaders),
	}
	records = append(records, blockRec)

	events := make(map[eventKey]*domain.AccountEvent)
	bump := func(account string, kind domain.AccountEventKind, shard uint64) (*domain.AccountEvent, error) {
		if account == "" {
			return nil, invalid(block.Height, "empty account id in shard %d", shard)
		}
		k := eventKey{account, kind}
		e, ok := events[k]
		if !ok {
			e = &domain.AccountEvent{
				AccountID:   account,
				BlockHeight: block.Height,
				EventKind:   kind,
				ShardID:     shard,
			}
			events[k] = e
		}
		e.Count++
		return e, nil
	}

	seen := make(map[uint64]struct{}, len(block.ChunkHeaders))
	for _, h := range block.ChunkHeaders {
		if _, dup := seen[h.ShardID]; dup {
			return nil, invalid(block.Height, "duplicate chunk header for shard %d", h.ShardID)
		}
		seen[h.ShardID] = struct{}{}

		c, ok := byShard[h.ShardID]
		if !ok {
			return nil, invalid(block.Height, "missing chunk for shard %d", h.ShardID)
		}
		if c.ChunkHash != "" && h.ChunkHash != "" && c.ChunkHash != h.ChunkHash {
			return nil, invalid(block.Height, "chunk hash mismatch on shard %d", h.ShardID)
		}

		blockRec.GasUsed += h.GasUsed
		records = append(records, &domain.ChunkRecord{
			BlockHeight:   block.Height,
			ShardID:       h.ShardID,
			ChunkHash:     h.ChunkHash,
			BlockHash:     block.Hash,
			Author:        c.Author,
			GasUsed:       h.GasUsed,
			GasLimit:      h.GasLimit,
			TxCount:       len(c.Transactions),
			ReceiptsCount: len(c.Receipts),
		})

		for _, tx := range c.Transactions {
			if _, err := bump(tx.SignerID, domain.AccountEventSigner, h.ShardID); err != nil {
				return nil, err
			}
			if _, err := bump(tx.ReceiverID, domain.AccountEventReceiver, h.ShardID); err != nil {
				return nil, err
			}
		}
		for _, r := range c.Receipts {
			if _, err := bump(r.ReceiverID, domain.AccountEventReceiver, h.ShardID); err != nil {
				return nil, err
			}
		}
		for _, sc := range c.StateChanges {
			kind := domain.AccountEventBalance
			if sc.Type == domain.StateChangeAccountDeletion {
				kind = domain.AccountEventDeleted
			}
			e, err := bump(sc.AccountID, kind, h.ShardID)
			if err != nil {
				return nil, err
			}
			// The last change in a block is the account's state after it.
			e.Amount, e.Locked = sc.Amount, sc.Locked
		}
	}

	for shard := range byShard {
		if _, ok := seen[shard]; !ok {
			return nil, invalid(block.Height, "chunk for shard %d not listed in header", shard)
		}
	}

	folded := make([]*domain.AccountEvent, 0, len(events))
	for _, e := range events {
		folded = append(folded, e)
	}
	sort.Slice(folded, func(i, j int) bool {
		if folded[i].AccountID != folded[j].AccountID {
			return folded[i].AccountID < folded[j].AccountID
		}
		return folded[i].EventKind < folded[j].EventKind
	})
	for _, e := range folded {
		records = append(records, e)
	}

	return records, nil
}

// ExtractFetched is Extract over a FetchedBlock.
func ExtractFetched(fb *domain.FetchedBlock) ([]domain.Record, error) {
	if fb == nil {
		return nil, &Error{Reason: "nil block"}
	}
	return Extract(fb.Block, fb.Chunks)
}
