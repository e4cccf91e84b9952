// Package node implements the live-node block source over NEAR JSON-RPC.
package node

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/indexing/throttle"
	"github.com/vietddude/indexer-base/internal/infra/chain"
	"github.com/vietddude/indexer-base/internal/infra/rpc/provider"
	"github.com/vietddude/indexer-base/internal/infra/rpc/routing"
)

// Source reads blocks from a NEAR archival RPC endpoint.
type Source struct {
	provider provider.Provider
	retry    routing.RetryConfig
	tip      *throttle.TipCache
	log      *slog.Logger
}

// NewSource creates a live-node source. The tip cache is optional.
func NewSource(p provider.Provider, retry routing.RetryConfig, tip *throttle.TipCache) *Source {
	if tip == nil {
		tip = throttle.NewTipCache(nil, nil, "", 0)
	}
	return &Source{
		provider: p,
		retry:    retry,
		tip:      tip,
		log:      slog.Default().With("component", "node", "provider", p.GetName()),
	}
}

// Name returns the variant name.
func (s *Source) Name() string { return string(domain.DataSourceFastNear) }

type statusView struct {
	SyncInfo struct {
		LatestBlockHeight uint64 `json:"latest_block_height"`
	} `json:"sync_info"`
}

// LatestHeight asks the node for its head.
func (s *Source) LatestHeight(ctx context.Context) (uint64, error) {
	raw, err := routing.CallWithRetry(ctx, s.provider, "status", []any{}, s.retry)
	if err != nil {
		return 0, fmt.Errorf("status: %w", err)
	}
	var st statusView
	if err := chain.DecodeJSON(raw, &st, "status"); err != nil {
		return 0, err
	}
	s.tip.Observe(ctx, st.SyncInfo.LatestBlockHeight)
	return st.SyncInfo.LatestBlockHeight, nil
}

// FetchBlock fetches the block, every chunk its header lists, and the
// account changes applied in it.
func (s *Source) FetchBlock(ctx context.Context, height uint64) (*domain.FetchedBlock, error) {
	raw, err := routing.CallWithRetry(ctx, s.provider, "block", map[string]any{"block_id": height}, s.retry)
	if err != nil {
		return nil, s.classify(ctx, height, fmt.Sprintf("block %d", height), err)
	}

	var view chain.BlockView
	if err := chain.DecodeJSON(raw, &view, fmt.Sprintf("block %d", height)); err != nil {
		return nil, err
	}
	block := view.ToBlock()
	if block.Height != height {
		return nil, fmt.Errorf("%w: requested height %d, node returned %d", chain.ErrFatalSource, height, block.Height)
	}
	s.tip.Observe(ctx, height)

	chunks := make([]*domain.Chunk, 0, len(block.ChunkHeaders))
	for _, header := range block.ChunkHeaders {
		// A header carried over from an earlier block means the shard
		// produced no new chunk here.
		if header.HeightIncluded != height {
			chunks = append(chunks, &domain.Chunk{BlockHeight: height, ShardID: header.ShardID})
			continue
		}
		what := fmt.Sprintf("chunk %s", header.ChunkHash)
		raw, err := routing.CallWithRetry(ctx, s.provider, "chunk", map[string]any{"chunk_id": header.ChunkHash}, s.retry)
		if err != nil {
			// The block exists, so its chunks must too.
			if routing.ClassifyError(err) == routing.ActionNotFound {
				return nil, fmt.Errorf("%w: %s of block %d: %v", chain.ErrFatalSource, what, height, err)
			}
			return nil, s.classify(ctx, height, what, err)
		}
		var cv chain.ChunkView
		if err := chain.DecodeJSON(raw, &cv, what); err != nil {
			return nil, err
		}
		chunk := cv.ToChunk(height)
		chunk.ShardID = header.ShardID
		chunks = append(chunks, chunk)
	}

	if err := s.attachAccountChanges(ctx, height, chunks); err != nil {
		return nil, err
	}

	return &domain.FetchedBlock{Block: block, Chunks: chunks}, nil
}

type changesInBlockView struct {
	Changes []struct {
		Type      string `json:"type"`
		AccountID string `json:"account_id"`
	} `json:"changes"`
}

type accountChangesView struct {
	Changes []chain.StateChangeView `json:"changes"`
}

// attachAccountChanges loads account state changes for the block and files
// each one under the chunk whose receipts touched the account. Changes with
// no matching receipt go to the first chunk.
func (s *Source) attachAccountChanges(ctx context.Context, height uint64, chunks []*domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	raw, err := routing.CallWithRetry(ctx, s.provider, "EXPERIMENTAL_changes_in_block",
		map[string]any{"block_id": height}, s.retry)
	if err != nil {
		return s.classify(ctx, height, "changes in block", err)
	}
	var touched changesInBlockView
	if err := chain.DecodeJSON(raw, &touched, "changes in block"); err != nil {
		return err
	}

	var accounts []string
	seen := make(map[string]struct{})
	for _, c := range touched.Changes {
		if c.Type != "account_touched" {
			continue
		}
		if _, ok := seen[c.AccountID]; ok {
			continue
		}
		seen[c.AccountID] = struct{}{}
		accounts = append(accounts, c.AccountID)
	}
	if len(accounts) == 0 {
		return nil
	}

	raw, err = routing.CallWithRetry(ctx, s.provider, "EXPERIMENTAL_changes", map[string]any{
		"block_id":     height,
		"changes_type": "account_changes",
		"account_ids":  accounts,
	}, s.retry)
	if err != nil {
		return s.classify(ctx, height, "account changes", err)
	}
	var changes accountChangesView
	if err := chain.DecodeJSON(raw, &changes, "account changes"); err != nil {
		return err
	}

	owner := make(map[string]*domain.Chunk)
	for _, c := range chunks {
		for _, r := range c.Receipts {
			if _, ok := owner[r.ReceiverID]; !ok {
				owner[r.ReceiverID] = c
			}
		}
	}

	for _, sc := range changes.Changes {
		t := domain.StateChangeType(sc.Type)
		if t != domain.StateChangeAccountUpdate && t != domain.StateChangeAccountDeletion {
			continue
		}
		target, ok := owner[sc.Change.AccountID]
		if !ok {
			target = chunks[0]
		}
		target.StateChanges = append(target.StateChanges, domain.StateChange{
			Type:      t,
			AccountID: sc.Change.AccountID,
			Amount:    sc.Change.Amount,
			Locked:    sc.Change.Locked,
		})
	}
	return nil
}

// classify maps a transport error to the source error contract.
func (s *Source) classify(ctx context.Context, height uint64, what string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	switch routing.ClassifyError(err) {
	case routing.ActionNotFound:
		tip, tipErr := s.LatestHeight(ctx)
		if tipErr != nil {
			return fmt.Errorf("%w: %s unknown and tip unreachable: %v", chain.ErrNotYetAvailable, what, tipErr)
		}
		if height > tip {
			return fmt.Errorf("%w: %s above tip %d", chain.ErrNotYetAvailable, what, tip)
		}
		s.log.Error("Node does not know a height at or below its tip", "height", height, "tip", tip)
		return fmt.Errorf("%w: %s unknown at or below tip %d", chain.ErrFatalSource, what, tip)
	case routing.ActionFatal:
		return fmt.Errorf("%w: %s: %v", chain.ErrFatalSource, what, err)
	}

	// Retries are exhausted; the prefetcher backs off and asks again.
	return fmt.Errorf("%w: %s: %v", chain.ErrNotYetAvailable, what, err)
}

var _ chain.TipSource = (*Source)(nil)
