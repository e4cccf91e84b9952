package postgres

import (
	"context"

	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/infra/storage"
)

// genesisWriter writes genesis accounts through a unit of work.
type genesisWriter struct {
	uow *UnitOfWork
}

// BeginGenesis opens the genesis transaction.
func (db *DB) BeginGenesis(ctx context.Context) (storage.GenesisWriter, error) {
	uow, err := db.NewUnitOfWork(ctx)
	if err != nil {
		return nil, err
	}
	return &genesisWriter{uow: uow}, nil
}

// WriteAccounts stores accounts as genesis events plus account rows.
func (w *genesisWriter) WriteAccounts(ctx context.Context, height uint64, accounts []domain.GenesisAccount) error {
	events := make([]*domain.AccountEvent, len(accounts))
	for i, a := range accounts {
		events[i] = a.Event(height)
	}
	if err := w.uow.SaveAccountEvents(ctx, events); err != nil {
		return err
	}
	return w.uow.SaveAccounts(ctx, domain.FoldAccounts(events))
}

func (w *genesisWriter) Commit() error   { return w.uow.Commit() }
func (w *genesisWriter) Rollback() error { return w.uow.Rollback() }
