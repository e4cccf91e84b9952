// Package genesis seeds the store with the chain's initial account set on the
// first run.
package genesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/indexing/metrics"
	"github.com/vietddude/indexer-base/internal/infra/objstore"
	"github.com/vietddude/indexer-base/internal/infra/storage"
)

// ErrInvalidGenesis is returned when the snapshot cannot be parsed.
var ErrInvalidGenesis = errors.New("invalid genesis snapshot")

// Checkpoints reports whether ingestion has ever progressed.
type Checkpoints interface {
	Exists(ctx context.Context) (bool, error)
}

// Config locates the snapshot and sizes the writes.
type Config struct {
	Bucket      string
	Key         string // default: genesis.json
	Height      uint64
	InsertLimit int // accounts per write (default: 1000)
}

// Bootstrapper loads the genesis account set exactly once.
type Bootstrapper struct {
	objects objstore.Store
	store   storage.GenesisStore
	cp      Checkpoints
	cfg     Config
	log     *slog.Logger
}

// New creates a bootstrapper.
func New(objects objstore.Store, store storage.GenesisStore, cp Checkpoints, cfg Config) *Bootstrapper {
	if cfg.Key == "" {
		cfg.Key = "genesis.json"
	}
	if cfg.InsertLimit <= 0 {
		cfg.InsertLimit = 1000
	}
	return &Bootstrapper{
		objects: objects,
		store:   store,
		cp:      cp,
		cfg:     cfg,
		log:     slog.Default().With("component", "genesis"),
	}
}

// Run loads genesis unless a checkpoint exists. It reports whether it ran.
// Every failure is fatal and leaves nothing visible.
func (b *Bootstrapper) Run(ctx context.Context) (bool, error) {
	exists, err := b.cp.Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check checkpoint: %w", err)
	}
	if exists {
		b.log.Debug("Checkpoint present, skipping genesis")
		return false, nil
	}

	start := time.Now()
	b.log.Info("Loading genesis snapshot", "bucket", b.cfg.Bucket, "key", b.cfg.Key, "height", b.cfg.Height)

	body, err := b.objects.Get(ctx, b.cfg.Bucket, b.cfg.Key)
	if err != nil {
		return false, fmt.Errorf("failed to download genesis: %w", err)
	}
	defer body.Close()

	w, err := b.store.BeginGenesis(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin genesis: %w", err)
	}
	defer w.Rollback()

	total, err := Parse(body, b.cfg.InsertLimit, func(accounts []domain.GenesisAccount) error {
		if err := w.WriteAccounts(ctx, b.cfg.Height, accounts); err != nil {
			return fmt.Errorf("failed to write genesis accounts: %w", err)
		}
		metrics.GenesisAccounts.Add(float64(len(accounts)))
		return nil
	})
	if err != nil {
		return false, err
	}
	if total == 0 {
		return false, fmt.Errorf("%w: no accounts", ErrInvalidGenesis)
	}

	if err := w.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit genesis: %w", err)
	}

	b.log.Info("Genesis loaded", "accounts", total, "duration", time.Since(start))
	return true, nil
}

type record struct {
	Account *struct {
		AccountID string `json:"account_id"`
		Account   struct {
			Amount       string `json:"amount"`
			Locked       string `json:"locked"`
			StorageUsage uint64 `json:"storage_usage"`
		} `json:"account"`
	} `json:"Account"`
}

// Parse walks a NEAR genesis document and calls fn with Account records in
// groups of up to size. Other record kinds are skipped. The records array is
// never held in memory as a whole.
func Parse(r io.Reader, size int, fn func([]domain.GenesisAccount) error) (int, error) {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return 0, err
	}

	total := 0
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrInvalidGenesis, err)
		}
		key, ok := tok.(string)
		if !ok {
			return total, fmt.Errorf("%w: unexpected token %v", ErrInvalidGenesis, tok)
		}

		if key != "records" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return total, fmt.Errorf("%w: field %s: %v", ErrInvalidGenesis, key, err)
			}
			continue
		}

		n, err := parseRecords(dec, size, fn)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func parseRecords(dec *json.Decoder, size int, fn func([]domain.GenesisAccount) error) (int, error) {
	if err := expectDelim(dec, '['); err != nil {
		return 0, err
	}

	total := 0
	buf := make([]domain.GenesisAccount, 0, size)
	for dec.More() {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			return total, fmt.Errorf("%w: record %d: %v", ErrInvalidGenesis, total, err)
		}
		if rec.Account == nil {
			continue
		}
		if rec.Account.AccountID == "" {
			return total, fmt.Errorf("%w: account record without id", ErrInvalidGenesis)
		}

		buf = append(buf, domain.GenesisAccount{
			AccountID:    rec.Account.AccountID,
			Amount:       rec.Account.Account.Amount,
			Locked:       rec.Account.Account.Locked,
			StorageUsage: rec.Account.Account.StorageUsage,
		})
		if len(buf) == size {
			if err := fn(buf); err != nil {
				return total, err
			}
			total += len(buf)
			buf = make([]domain.GenesisAccount, 0, size)
		}
	}
	if len(buf) > 0 {
		if err := fn(buf); err != nil {
			return total, err
		}
		total += len(buf)
	}

	if err := expectDelim(dec, ']'); err != nil {
		return total, err
	}
	return total, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGenesis, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrInvalidGenesis, want, tok)
	}
	return nil
}
