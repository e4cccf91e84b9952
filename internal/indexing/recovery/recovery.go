// Package recovery classifies ingestion errors and decides how they are
// retried.
package recovery

import (
	"context"
	"errors"

	"github.com/vietddude/indexer-base/internal/core/checkpoint"
	"github.com/vietddude/indexer-base/internal/core/config"
	"github.com/vietddude/indexer-base/internal/indexing/extract"
	"github.com/vietddude/indexer-base/internal/infra/chain"
	"github.com/vietddude/indexer-base/internal/infra/rpc/routing"
	"github.com/vietddude/indexer-base/internal/infra/storage"
)

// Category is the failure class of an error.
type Category int

const (
	// CategoryTransient errors are retried with bounded backoff and never
	// surfaced as failures.
	CategoryTransient Category = iota
	// CategoryStructural errors stop the run. The height is never skipped.
	CategoryStructural
	// CategoryConfiguration errors stop the process before ingestion.
	CategoryConfiguration
	// CategoryStore errors may mean the batch was already applied and are
	// retried once.
	CategoryStore
	// CategoryFatal covers everything else, including cancellation.
	CategoryFatal
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryStructural:
		return "structural"
	case CategoryConfiguration:
		return "configuration"
	case CategoryStore:
		return "store"
	default:
		return "fatal"
	}
}

var (
	// ErrStructural marks a break in height order or hash linkage.
	ErrStructural = errors.New("structural error")

	// ErrConfiguration marks invalid or missing startup settings.
	ErrConfiguration = errors.New("configuration error")
)

// Classifier maps an error to its category.
type Classifier func(err error) Category

// Classify is the default Classifier.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryTransient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CategoryFatal
	case errors.Is(err, ErrConfiguration), errors.Is(err, config.ErrInvalidConfig):
		return CategoryConfiguration
	case errors.Is(err, ErrStructural),
		errors.Is(err, extract.ErrInvalidBlock),
		errors.Is(err, chain.ErrFatalSource),
		errors.Is(err, checkpoint.ErrRegression):
		return CategoryStructural
	case errors.Is(err, storage.ErrReplayConflict):
		return CategoryStore
	case errors.Is(err, chain.ErrNotYetAvailable),
		errors.Is(err, chain.ErrTransient),
		errors.Is(err, routing.ErrRetriesExhausted):
		return CategoryTransient
	default:
		return CategoryFatal
	}
}
