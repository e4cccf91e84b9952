package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/indexing/metrics"
	"github.com/vietddude/indexer-base/internal/infra/storage"
)

// UnitOfWork bundles all persistence operations into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return classify(err)
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// CommitBatch writes a batch in one transaction.
func (db *DB) CommitBatch(ctx context.Context, batch *domain.Batch) error {
	uow, err := db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.SaveBlocks(ctx, batch.Blocks); err != nil {
		return err
	}
	if err := uow.SaveChunks(ctx, batch.Chunks); err != nil {
		return err
	}
	if err := uow.SaveAccountEvents(ctx, batch.Events); err != nil {
		return err
	}
	if err := uow.SaveAccounts(ctx, domain.FoldAccounts(batch.Events)); err != nil {
		return err
	}
	return uow.Commit()
}

const upsertBlocks = `
INSERT INTO blocks (
    block_height, block_hash, prev_block_hash, block_timestamp,
    author_account_id, gas_price, chunks_count, gas_used
)
SELECT * FROM unnest(
    $1::bigint[], $2::text[], $3::text[], $4::bigint[],
    $5::text[], $6::text[], $7::int[], $8::bigint[]
)
ON CONFLICT (block_height) DO UPDATE SET
    block_hash = EXCLUDED.block_hash,
    prev_block_hash = EXCLUDED.prev_block_hash,
    block_timestamp = EXCLUDED.block_timestamp,
    author_account_id = EXCLUDED.author_account_id,
    gas_price = EXCLUDED.gas_price,
    chunks_count = EXCLUDED.chunks_count,
    gas_used = EXCLUDED.gas_used`

// SaveBlocks upserts block rows using a multi-row INSERT.
func (u *UnitOfWork) SaveBlocks(ctx context.Context, blocks []*domain.BlockRecord) error {
	if len(blocks) == 0 {
		return nil
	}

	heights := make([]int64, len(blocks))
	hashes := make([]string, len(blocks))
	prevHashes := make([]string, len(blocks))
	timestamps := make([]int64, len(blocks))
	authors := make([]string, len(blocks))
	gasPrices := make([]string, len(blocks))
	chunkCounts := make([]int64, len(blocks))
	gasUsed := make([]int64, len(blocks))

	for i, b := range blocks {
		heights[i] = int64(b.BlockHeight)
		hashes[i] = b.BlockHash
		prevHashes[i] = b.PrevHash
		timestamps[i] = int64(b.Timestamp)
		authors[i] = b.Author
		gasPrices[i] = b.GasPrice
		chunkCounts[i] = int64(b.ChunksCount)
		gasUsed[i] = int64(b.GasUsed)
	}

	metrics.DBBatchSize.WithLabelValues("blocks").Observe(float64(len(blocks)))

	_, err := u.tx.ExecContext(ctx, upsertBlocks,
		pq.Array(heights), pq.Array(hashes), pq.Array(prevHashes), pq.Array(timestamps),
		pq.Array(authors), pq.Array(gasPrices), pq.Array(chunkCounts), pq.Array(gasUsed),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert blocks: %w", classify(err))
	}
	return nil
}

const upsertChunks = `
INSERT INTO chunks (
    block_height, shard_id, chunk_hash, block_hash, author_account_id,
    gas_used, gas_limit, transactions_count, receipts_count
)
SELECT * FROM unnest(
    $1::bigint[], $2::int[], $3::text[], $4::text[], $5::text[],
    $6::bigint[], $7::bigint[], $8::int[], $9::int[]
)
ON CONFLICT (block_height, shard_id) DO UPDATE SET
    chunk_hash = EXCLUDED.chunk_hash,
    block_hash = EXCLUDED.block_hash,
    author_account_id = EXCLUDED.author_account_id,
    gas_used = EXCLUDED.gas_used,
    gas_limit = EXCLUDED.gas_limit,
    transactions_count = EXCLUDED.transactions_count,
    receipts_count = EXCLUDED.receipts_count`

// SaveChunks upserts chunk rows.
func (u *UnitOfWork) SaveChunks(ctx context.Context, chunks []*domain.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}

	heights := make([]int64, len(chunks))
	shards := make([]int64, len(chunks))
	chunkHashes := make([]string, len(chunks))
	blockHashes := make([]string, len(chunks))
	authors := make([]string, len(chunks))
	gasUsed := make([]int64, len(chunks))
	gasLimit := make([]int64, len(chunks))
	txCounts := make([]int64, len(chunks))
	receiptCounts := make([]int64, len(chunks))

	for i, c := range chunks {
		heights[i] = int64(c.BlockHeight)
		shards[i] = int64(c.ShardID)
		chunkHashes[i] = c.ChunkHash
		blockHashes[i] = c.BlockHash
		authors[i] = c.Author
		gasUsed[i] = int64(c.GasUsed)
		gasLimit[i] = int64(c.GasLimit)
		txCounts[i] = int64(c.TxCount)
		receiptCounts[i] = int64(c.ReceiptsCount)
	}

	metrics.DBBatchSize.WithLabelValues("chunks").Observe(float64(len(chunks)))

	_, err := u.tx.ExecContext(ctx, upsertChunks,
		pq.Array(heights), pq.Array(shards), pq.Array(chunkHashes), pq.Array(blockHashes),
		pq.Array(authors), pq.Array(gasUsed), pq.Array(gasLimit), pq.Array(txCounts),
		pq.Array(receiptCounts),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", classify(err))
	}
	return nil
}

const upsertAccountEvents = `
INSERT INTO account_events (
    account_id, block_height, event_kind, shard_id, amount, locked, event_count
)
SELECT * FROM unnest(
    $1::text[], $2::bigint[], $3::text[], $4::int[], $5::text[], $6::text[], $7::int[]
)
ON CONFLICT (account_id, block_height, event_kind) DO UPDATE SET
    shard_id = EXCLUDED.shard_id,
    amount = EXCLUDED.amount,
    locked = EXCLUDED.locked,
    event_count = EXCLUDED.event_count`

// SaveAccountEvents upserts account event rows.
func (u *UnitOfWork) SaveAccountEvents(ctx context.Context, events []*domain.AccountEvent) error {
	if len(events) == 0 {
		return nil
	}

	accounts := make([]string, len(events))
	heights := make([]int64, len(events))
	kinds := make([]string, len(events))
	shards := make([]int64, len(events))
	amounts := make([]string, len(events))
	locked := make([]string, len(events))
	counts := make([]int64, len(events))

	for i, e := range events {
		accounts[i] = e.AccountID
		heights[i] = int64(e.BlockHeight)
		kinds[i] = string(e.EventKind)
		shards[i] = int64(e.ShardID)
		amounts[i] = e.Amount
		locked[i] = e.Locked
		counts[i] = int64(e.Count)
	}

	metrics.DBBatchSize.WithLabelValues("account_events").Observe(float64(len(events)))

	_, err := u.tx.ExecContext(ctx, upsertAccountEvents,
		pq.Array(accounts), pq.Array(heights), pq.Array(kinds), pq.Array(shards),
		pq.Array(amounts), pq.Array(locked), pq.Array(counts),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account events: %w", classify(err))
	}
	return nil
}

// The CASE guards make replays of older heights no-ops; see domain.Account.Merge.
const upsertAccounts = `
INSERT INTO accounts (
    account_id, created_height, deleted_height, amount, locked, last_update_height
)
SELECT a, c, NULLIF(d, 0), am, l, u FROM unnest(
    $1::text[], $2::bigint[], $3::bigint[], $4::text[], $5::text[], $6::bigint[]
) AS t(a, c, d, am, l, u)
ON CONFLICT (account_id) DO UPDATE SET
    created_height = LEAST(accounts.created_height, EXCLUDED.created_height),
    deleted_height = CASE WHEN EXCLUDED.last_update_height >= accounts.last_update_height
        THEN EXCLUDED.deleted_height ELSE accounts.deleted_height END,
    amount = CASE WHEN EXCLUDED.last_update_height >= accounts.last_update_height
        THEN EXCLUDED.amount ELSE accounts.amount END,
    locked = CASE WHEN EXCLUDED.last_update_height >= accounts.last_update_height
        THEN EXCLUDED.locked ELSE accounts.locked END,
    last_update_height = GREATEST(accounts.last_update_height, EXCLUDED.last_update_height)`

// SaveAccounts upserts folded account state.
func (u *UnitOfWork) SaveAccounts(ctx context.Context, accounts []*domain.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	ids := make([]string, len(accounts))
	created := make([]int64, len(accounts))
	deleted := make([]int64, len(accounts))
	amounts := make([]string, len(accounts))
	locked := make([]string, len(accounts))
	updated := make([]int64, len(accounts))

	for i, a := range accounts {
		ids[i] = a.AccountID
		created[i] = int64(a.CreatedHeight)
		deleted[i] = int64(a.DeletedHeight)
		amounts[i] = a.Amount
		locked[i] = a.Locked
		updated[i] = int64(a.LastUpdateHeight)
	}

	metrics.DBBatchSize.WithLabelValues("accounts").Observe(float64(len(accounts)))

	_, err := u.tx.ExecContext(ctx, upsertAccounts,
		pq.Array(ids), pq.Array(created), pq.Array(deleted),
		pq.Array(amounts), pq.Array(locked), pq.Array(updated),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert accounts: %w", classify(err))
	}
	return nil
}

// classify tags errors that may indicate an already-applied batch.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01": // unique_violation, serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %w", storage.ErrReplayConflict, err)
		}
	}
	return err
}

var _ storage.BatchStore = (*DB)(nil)
