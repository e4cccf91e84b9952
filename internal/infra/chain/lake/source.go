// Package lake implements the archival block source over the NEAR lake
// object-storage layout.
package lake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/indexing/throttle"
	"github.com/vietddude/indexer-base/internal/infra/chain"
	"github.com/vietddude/indexer-base/internal/infra/objstore"
)

// heightDigits is the zero-padded width of the height prefix in lake keys.
const heightDigits = 12

// Source reads blocks from a lake bucket.
type Source struct {
	store  objstore.Store
	bucket string
	tip    *throttle.TipCache
	log    *slog.Logger
}

// NewSource creates a lake source. tip may be nil.
func NewSource(store objstore.Store, bucket string, tip *throttle.TipCache) *Source {
	if tip == nil {
		tip = throttle.NewTipCache(nil, nil, "", 0)
	}
	return &Source{
		store:  store,
		bucket: bucket,
		tip:    tip,
		log:    slog.Default().With("component", "lake"),
	}
}

// Name returns the variant name.
func (s *Source) Name() string { return string(domain.DataSourceLake) }

// BlockKey returns the key of a block file.
func BlockKey(height uint64) string {
	return fmt.Sprintf("%0*d/block.json", heightDigits, height)
}

// ShardKey returns the key of a shard file.
func ShardKey(height, shardID uint64) string {
	return fmt.Sprintf("%0*d/shard_%d.json", heightDigits, height, shardID)
}

// FetchBlock reads block.json and the shard file of every chunk it lists.
// Storage failures other than a missing key are wrapped in ErrTransient.
func (s *Source) FetchBlock(ctx context.Context, height uint64) (*domain.FetchedBlock, error) {
	data, err := s.read(ctx, BlockKey(height))
	if errors.Is(err, objstore.ErrNotFound) {
		return nil, s.missing(ctx, height)
	}
	if err != nil {
		return nil, err
	}

	var view chain.BlockView
	if err := chain.DecodeJSON(data, &view, BlockKey(height)); err != nil {
		return nil, err
	}
	block := view.ToBlock()
	if block.Height != height {
		return nil, fmt.Errorf("%w: %s holds height %d", chain.ErrFatalSource, BlockKey(height), block.Height)
	}
	s.tip.Observe(ctx, height)

	chunks := make([]*domain.Chunk, 0, len(block.ChunkHeaders))
	for _, header := range block.ChunkHeaders {
		key := ShardKey(height, header.ShardID)
		data, err := s.read(ctx, key)
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: missing %s", chain.ErrFatalSource, key)
		}
		if err != nil {
			return nil, err
		}

		var shard chain.ShardView
		if err := chain.DecodeJSON(data, &shard, key); err != nil {
			return nil, err
		}
		chunks = append(chunks, shard.ToChunk(height))
	}

	return &domain.FetchedBlock{Block: block, Chunks: chunks}, nil
}

// missing decides whether an absent block is beyond the tip or a hole in the lake.
func (s *Source) missing(ctx context.Context, height uint64) error {
	if tip, err := s.tip.Latest(ctx); err == nil && tip > height {
		return fmt.Errorf("%w: %s missing below tip %d", chain.ErrFatalSource, BlockKey(height), tip)
	}

	// '~' sorts after every file name under the height prefix.
	startAfter := fmt.Sprintf("%0*d/~", heightDigits, height)
	key, found, err := s.store.FirstKeyAfter(ctx, s.bucket, startAfter)
	if err != nil {
		return fmt.Errorf("%w: list after %s: %w", chain.ErrTransient, startAfter, err)
	}
	if !found {
		return fmt.Errorf("%w: height %d", chain.ErrNotYetAvailable, height)
	}

	later, err := parseHeight(key)
	if err != nil {
		return fmt.Errorf("%w: unexpected key %q: %v", chain.ErrFatalSource, key, err)
	}
	s.tip.Observe(ctx, later)
	s.log.Error("Block missing below lake tip", "height", height, "next", later)
	return fmt.Errorf("%w: %s missing, lake has height %d", chain.ErrFatalSource, BlockKey(height), later)
}

func (s *Source) read(ctx context.Context, key string) ([]byte, error) {
	body, err := s.store.Get(ctx, s.bucket, key)
	if errors.Is(err, objstore.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", chain.ErrTransient, key, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", chain.ErrTransient, key, err)
	}
	return data, nil
}

func parseHeight(key string) (uint64, error) {
	if len(key) < heightDigits {
		return 0, fmt.Errorf("key too short")
	}
	return strconv.ParseUint(key[:heightDigits], 10, 64)
}
