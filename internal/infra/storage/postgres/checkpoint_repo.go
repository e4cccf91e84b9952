package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/infra/storage"
)

type checkpointRow struct {
	Name                string    `db:"name"`
	LastCommittedHeight int64     `db:"last_committed_height"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// Get retrieves a checkpoint by name.
func (db *DB) Get(ctx context.Context, name string) (*domain.Checkpoint, error) {
	var row checkpointRow
	err := db.GetContext(ctx, &row,
		`SELECT name, last_committed_height, updated_at FROM checkpoints WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &domain.Checkpoint{
		Name:                row.Name,
		LastCommittedHeight: uint64(row.LastCommittedHeight),
		UpdatedAt:           row.UpdatedAt,
	}, nil
}

// Advance raises the checkpoint. GREATEST keeps it monotonic even when a
// replay of older heights commits after a newer batch.
func (db *DB) Advance(ctx context.Context, name string, height uint64) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO checkpoints (name, last_committed_height, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (name) DO UPDATE SET
    last_committed_height = GREATEST(checkpoints.last_committed_height, EXCLUDED.last_committed_height),
    updated_at = NOW()`, name, int64(height))
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	return nil
}

// Reset sets the checkpoint to exactly height.
func (db *DB) Reset(ctx context.Context, name string, height uint64) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO checkpoints (name, last_committed_height, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (name) DO UPDATE SET
    last_committed_height = EXCLUDED.last_committed_height,
    updated_at = NOW()`, name, int64(height))
	if err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	return nil
}

// Delete removes a checkpoint.
func (db *DB) Delete(ctx context.Context, name string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM checkpoints WHERE name = $1`, name); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

var _ storage.CheckpointRepository = (*DB)(nil)
