package node

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/indexing/extract"
	"github.com/vietddude/indexer-base/internal/infra/chain"
	"github.com/vietddude/indexer-base/internal/infra/rpc/provider"
	"github.com/vietddude/indexer-base/internal/infra/rpc/routing"
)

var testRetry = routing.RetryConfig{
	MaxAttempts:     2,
	InitialDelay:    time.Millisecond,
	MaxDelay:        2 * time.Millisecond,
	BackoffMultiple: 2,
}

// fakeNode serves a chain of blocks up to tip. Every block has one chunk on
// shard 0, except block 101 which repeats the chunk included at 100.
func fakeNode(t *testing.T, tip uint64) *httptest.Server {
	return fakeNodeCounting(t, tip, nil)
}

func fakeNodeCounting(t *testing.T, tip uint64, chunkCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		reply := func(result any) {
			json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
		}
		unknown := func(cause string) {
			json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{
				"code": -32000, "message": "Server error", "name": "HANDLER_ERROR",
				"cause": map[string]any{"name": cause},
			}})
		}

		switch req.Method {
		case "status":
			reply(map[string]any{"sync_info": map[string]any{"latest_block_height": tip}})
		case "block":
			var p struct {
				BlockID uint64 `json:"block_id"`
			}
			json.Unmarshal(req.Params, &p)
			if p.BlockID > tip || p.BlockID == 50 {
				unknown("UNKNOWN_BLOCK")
				return
			}
			included := p.BlockID
			if p.BlockID == 101 {
				included = 100
			}
			reply(map[string]any{
				"author": "pool.near",
				"header": map[string]any{
					"height": p.BlockID, "hash": "h", "prev_hash": "p",
					"timestamp_nanosec": "1600000000000000000", "gas_price": "100",
				},
				"chunks": []any{map[string]any{
					"chunk_hash": "c1", "shard_id": 0, "height_created": p.BlockID,
					"height_included": included, "gas_used": 1, "gas_limit": 2,
				}},
			})
		case "chunk":
			if chunkCalls != nil {
				chunkCalls.Add(1)
			}
			reply(map[string]any{
				"author": "pool.near",
				"header": map[string]any{"chunk_hash": "c1", "shard_id": 0},
				"transactions": []any{map[string]any{
					"hash": "tx", "signer_id": "alice.near", "receiver_id": "bob.near", "actions": []any{map[string]any{}},
				}},
				"receipts": []any{map[string]any{"receipt_id": "r", "predecessor_id": "alice.near", "receiver_id": "bob.near"}},
			})
		case "EXPERIMENTAL_changes_in_block":
			reply(map[string]any{"changes": []any{
				map[string]any{"type": "account_touched", "account_id": "bob.near"},
				map[string]any{"type": "access_key_touched", "account_id": "alice.near"},
			}})
		case "EXPERIMENTAL_changes":
			reply(map[string]any{"changes": []any{map[string]any{
				"type":   "account_update",
				"change": map[string]any{"account_id": "bob.near", "amount": "5", "locked": "0"},
			}}})
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
	}))
}

func TestFetchBlock(t *testing.T) {
	srv := fakeNode(t, 200)
	defer srv.Close()

	src := NewSource(provider.NewHTTPProvider("node", srv.URL, time.Second), testRetry, nil)

	fb, err := src.FetchBlock(context.Background(), 100)
	if err != nil {
		t.Fatalf("FetchBlock failed: %v", err)
	}
	if fb.Block.Height != 100 || len(fb.Block.ChunkHeaders) != 1 {
		t.Fatalf("unexpected block %+v", fb.Block)
	}
	if len(fb.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(fb.Chunks))
	}
	c := fb.Chunks[0]
	if len(c.Transactions) != 1 || c.Transactions[0].Actions != 1 {
		t.Errorf("unexpected transactions %+v", c.Transactions)
	}
	if len(c.StateChanges) != 1 || c.StateChanges[0].AccountID != "bob.near" {
		t.Errorf("unexpected state changes %+v", c.StateChanges)
	}
}

func TestFetchBlock_StaleChunkHeader(t *testing.T) {
	var chunkCalls atomic.Int32
	srv := fakeNodeCounting(t, 200, &chunkCalls)
	defer srv.Close()

	src := NewSource(provider.NewHTTPProvider("node", srv.URL, time.Second), testRetry, nil)

	fb, err := src.FetchBlock(context.Background(), 101)
	if err != nil {
		t.Fatalf("FetchBlock failed: %v", err)
	}
	if chunkCalls.Load() != 0 {
		t.Errorf("a chunk included at an earlier height must not be fetched, got %d calls", chunkCalls.Load())
	}
	if len(fb.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(fb.Chunks))
	}
	c := fb.Chunks[0]
	if c.ShardID != 0 || c.BlockHeight != 101 || c.ChunkHash != "" {
		t.Errorf("unexpected empty chunk %+v", c)
	}
	if len(c.Transactions) != 0 || len(c.Receipts) != 0 {
		t.Errorf("stale chunk must carry no transactions or receipts, got %+v", c)
	}
	if len(c.StateChanges) != 1 || c.StateChanges[0].AccountID != "bob.near" {
		t.Errorf("state changes of the block must still be attached, got %+v", c.StateChanges)
	}

	records, err := extract.Extract(fb.Block, fb.Chunks)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	for _, r := range records {
		switch rec := r.(type) {
		case *domain.ChunkRecord:
			if rec.TxCount != 0 || rec.ReceiptsCount != 0 {
				t.Errorf("expected empty chunk record, got %+v", rec)
			}
		case *domain.AccountEvent:
			if rec.EventKind == domain.AccountEventSigner || rec.EventKind == domain.AccountEventReceiver {
				t.Errorf("unexpected %s event for %s", rec.EventKind, rec.AccountID)
			}
		}
	}
}

func TestFetchBlock_AboveTip(t *testing.T) {
	srv := fakeNode(t, 200)
	defer srv.Close()

	src := NewSource(provider.NewHTTPProvider("node", srv.URL, time.Second), testRetry, nil)

	_, err := src.FetchBlock(context.Background(), 201)
	if !errors.Is(err, chain.ErrNotYetAvailable) {
		t.Errorf("expected ErrNotYetAvailable, got %v", err)
	}
}

func TestFetchBlock_UnknownBelowTip(t *testing.T) {
	srv := fakeNode(t, 200)
	defer srv.Close()

	src := NewSource(provider.NewHTTPProvider("node", srv.URL, time.Second), testRetry, nil)

	_, err := src.FetchBlock(context.Background(), 50)
	if !errors.Is(err, chain.ErrFatalSource) {
		t.Errorf("expected ErrFatalSource, got %v", err)
	}
}

func TestFetchBlock_Unreachable(t *testing.T) {
	srv := fakeNode(t, 200)
	url := srv.URL
	srv.Close()

	src := NewSource(provider.NewHTTPProvider("node", url, 100*time.Millisecond), testRetry, nil)

	_, err := src.FetchBlock(context.Background(), 100)
	if !errors.Is(err, chain.ErrNotYetAvailable) {
		t.Errorf("expected transient ErrNotYetAvailable, got %v", err)
	}
}

func TestLatestHeight(t *testing.T) {
	srv := fakeNode(t, 321)
	defer srv.Close()

	src := NewSource(provider.NewHTTPProvider("node", srv.URL, time.Second), testRetry, nil)

	h, err := src.LatestHeight(context.Background())
	if err != nil {
		t.Fatalf("LatestHeight failed: %v", err)
	}
	if h != 321 {
		t.Errorf("expected 321, got %d", h)
	}
}
