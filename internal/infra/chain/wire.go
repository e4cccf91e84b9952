package chain

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vietddude/indexer-base/internal/core/domain"
)

// Uint64String decodes NEAR numbers that may arrive as JSON strings.
type Uint64String uint64

func (u *Uint64String) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}
		*u = Uint64String(v)
		return nil
	}
	var v uint64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*u = Uint64String(v)
	return nil
}

// BlockView is the JSON shape of a block, shared by the lake block.json file
// and the RPC "block" method.
type BlockView struct {
	Author string            `json:"author"`
	Header BlockHeaderView   `json:"header"`
	Chunks []ChunkHeaderView `json:"chunks"`
}

type BlockHeaderView struct {
	Height           uint64       `json:"height"`
	Hash             string       `json:"hash"`
	PrevHash         string       `json:"prev_hash"`
	TimestampNanosec Uint64String `json:"timestamp_nanosec"`
	GasPrice         string       `json:"gas_price"`
}

type ChunkHeaderView struct {
	ChunkHash      string       `json:"chunk_hash"`
	ShardID        uint64       `json:"shard_id"`
	HeightCreated  uint64       `json:"height_created"`
	HeightIncluded uint64       `json:"height_included"`
	GasUsed        Uint64String `json:"gas_used"`
	GasLimit       Uint64String `json:"gas_limit"`
}

// ChunkView is the JSON shape of a chunk body.
type ChunkView struct {
	Author       string            `json:"author"`
	Header       ChunkHeaderView   `json:"header"`
	Transactions []TransactionView `json:"transactions"`
	Receipts     []ReceiptView     `json:"receipts"`
}

// TransactionView covers both the bare RPC transaction and the lake
// {"transaction": ...} wrapper.
type TransactionView struct {
	Hash        string            `json:"hash"`
	SignerID    string            `json:"signer_id"`
	ReceiverID  string            `json:"receiver_id"`
	Actions     []json.RawMessage `json:"actions"`
	Transaction *TransactionView  `json:"transaction,omitempty"`
}

type ReceiptView struct {
	ReceiptID     string `json:"receipt_id"`
	PredecessorID string `json:"predecessor_id"`
	ReceiverID    string `json:"receiver_id"`
}

// ShardView is the JSON shape of a lake shard_<n>.json file.
type ShardView struct {
	ShardID      uint64            `json:"shard_id"`
	Chunk        *ChunkView        `json:"chunk"`
	StateChanges []StateChangeView `json:"state_changes"`
}

type StateChangeView struct {
	Type   string `json:"type"`
	Change struct {
		AccountID string `json:"account_id"`
		Amount    string `json:"amount"`
		Locked    string `json:"locked"`
	} `json:"change"`
}

// ToBlock converts the wire shape to a domain block.
func (v *BlockView) ToBlock() *domain.Block {
	b := &domain.Block{
		Height:       v.Header.Height,
		Hash:         v.Header.Hash,
		PrevHash:     v.Header.PrevHash,
		Timestamp:    uint64(v.Header.TimestampNanosec),
		Author:       v.Author,
		GasPrice:     v.Header.GasPrice,
		ChunkHeaders: make([]domain.ChunkHeader, 0, len(v.Chunks)),
	}
	for _, c := range v.Chunks {
		b.ChunkHeaders = append(b.ChunkHeaders, c.toDomain())
	}
	return b
}

func (c ChunkHeaderView) toDomain() domain.ChunkHeader {
	return domain.ChunkHeader{
		ChunkHash:      c.ChunkHash,
		ShardID:        c.ShardID,
		HeightCreated:  c.HeightCreated,
		HeightIncluded: c.HeightIncluded,
		GasUsed:        uint64(c.GasUsed),
		GasLimit:       uint64(c.GasLimit),
	}
}

// ToChunk converts a chunk body to a domain chunk at blockHeight.
func (v *ChunkView) ToChunk(blockHeight uint64) *domain.Chunk {
	c := &domain.Chunk{
		BlockHeight:  blockHeight,
		ShardID:      v.Header.ShardID,
		ChunkHash:    v.Header.ChunkHash,
		Author:       v.Author,
		Transactions: make([]domain.Transaction, 0, len(v.Transactions)),
		Receipts:     make([]domain.Receipt, 0, len(v.Receipts)),
	}
	for _, tx := range v.Transactions {
		t := tx
		if tx.Transaction != nil {
			t = *tx.Transaction
		}
		c.Transactions = append(c.Transactions, domain.Transaction{
			Hash:       t.Hash,
			SignerID:   t.SignerID,
			ReceiverID: t.ReceiverID,
			Actions:    len(t.Actions),
		})
	}
	for _, r := range v.Receipts {
		c.Receipts = append(c.Receipts, domain.Receipt{
			ReceiptID:     r.ReceiptID,
			PredecessorID: r.PredecessorID,
			ReceiverID:    r.ReceiverID,
		})
	}
	return c
}

// ToChunk converts a lake shard file. Shards without a chunk in this block
// yield an empty chunk carrying only state changes.
func (v *ShardView) ToChunk(blockHeight uint64) *domain.Chunk {
	var c *domain.Chunk
	if v.Chunk != nil {
		c = v.Chunk.ToChunk(blockHeight)
	} else {
		c = &domain.Chunk{BlockHeight: blockHeight}
	}
	c.ShardID = v.ShardID
	for _, sc := range v.StateChanges {
		switch domain.StateChangeType(sc.Type) {
		case domain.StateChangeAccountUpdate, domain.StateChangeAccountDeletion:
			c.StateChanges = append(c.StateChanges, domain.StateChange{
				Type:      domain.StateChangeType(sc.Type),
				AccountID: sc.Change.AccountID,
				Amount:    sc.Change.Amount,
				Locked:    sc.Change.Locked,
			})
		}
	}
	return c
}

// DecodeJSON decodes data into v, tagging failures as fatal source errors.
func DecodeJSON(data []byte, v any, what string) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrFatalSource, what, err)
	}
	return nil
}
