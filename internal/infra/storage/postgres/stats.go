package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/indexer-base/internal/infra/storage"
)

// Stats returns row counts and the highest stored block. Counts use the
// planner estimate for the large tables.
func (db *DB) Stats(ctx context.Context) (storage.Stats, error) {
	var row struct {
		Blocks        int64 `db:"blocks"`
		Chunks        int64 `db:"chunks"`
		AccountEvents int64 `db:"account_events"`
		Accounts      int64 `db:"accounts"`
		LatestHeight  int64 `db:"latest_height"`
	}
	err := db.GetContext(ctx, &row, `
SELECT
    (SELECT GREATEST(COALESCE(MAX(reltuples), 0), 0)::bigint FROM pg_class WHERE relname = 'blocks') AS blocks,
    (SELECT GREATEST(COALESCE(MAX(reltuples), 0), 0)::bigint FROM pg_class WHERE relname = 'chunks') AS chunks,
    (SELECT GREATEST(COALESCE(MAX(reltuples), 0), 0)::bigint FROM pg_class WHERE relname = 'account_events') AS account_events,
    (SELECT GREATEST(COALESCE(MAX(reltuples), 0), 0)::bigint FROM pg_class WHERE relname = 'accounts') AS accounts,
    (SELECT COALESCE(MAX(block_height), 0) FROM blocks) AS latest_height`)
	if err != nil {
		return storage.Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	return storage.Stats{
		Blocks:        row.Blocks,
		Chunks:        row.Chunks,
		AccountEvents: row.AccountEvents,
		Accounts:      row.Accounts,
		LatestHeight:  uint64(row.LatestHeight),
	}, nil
}

var _ storage.Store = (*DB)(nil)
