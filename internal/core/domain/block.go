package domain

// Block represents a NEAR block header as delivered by a source.
type Block struct {
	Height       uint64
	Hash         string
	PrevHash     string
	Timestamp    uint64 // nanoseconds since epoch
	Author       string
	GasPrice     string
	ChunkHeaders []ChunkHeader
}

// ChunkHeader is the per-shard entry of a block header.
type ChunkHeader struct {
	ChunkHash      string
	ShardID        uint64
	HeightCreated  uint64
	HeightIncluded uint64
	GasUsed        uint64
	GasLimit       uint64
}

// Chunk is the shard-scoped payload of a block.
type Chunk struct {
	BlockHeight  uint64
	ShardID      uint64
	ChunkHash    string
	Author       string
	Transactions []Transaction
	Receipts     []Receipt
	StateChanges []StateChange
}

// Transaction is the subset of a signed transaction needed for extraction.
type Transaction struct {
	Hash       string
	SignerID   string
	ReceiverID string
	Actions    int
}

// Receipt is the subset of a receipt needed for extraction.
type Receipt struct {
	ReceiptID     string
	PredecessorID string
	ReceiverID    string
}

// StateChangeType identifies account-level state changes.
type StateChangeType string

const (
	StateChangeAccountUpdate   StateChangeType = "account_update"
	StateChangeAccountDeletion StateChangeType = "account_deletion"
)

// StateChange is an account state change attached to a shard.
type StateChange struct {
	Type      StateChangeType
	AccountID string
	Amount    string
	Locked    string
}

// FetchedBlock pairs a block with its chunks, ordered by shard.
type FetchedBlock struct {
	Block  *Block
	Chunks []*Chunk
}
