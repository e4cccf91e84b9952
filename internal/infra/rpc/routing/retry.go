// Package routing classifies RPC failures and retries the retryable ones.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vietddude/indexer-base/internal/infra/rpc/provider"
)

// ErrRetriesExhausted wraps the last error once every attempt has failed.
var ErrRetriesExhausted = errors.New("rpc retries exhausted")

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialDelay:    500 * time.Millisecond,
	MaxDelay:        10 * time.Second,
	BackoffMultiple: 2.0,
}

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	ActionRetry    ErrorAction = iota
	ActionThrottle             // endpoint is shedding load; retry after a longer pause
	ActionNotFound             // the node does not know the requested block or chunk
	ActionFatal
)

func (a ErrorAction) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionThrottle:
		return "throttle"
	case ActionNotFound:
		return "not_found"
	case ActionFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyError determines the action for a given error.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry // Should not happen
	}
	if errors.Is(err, context.Canceled) {
		return ActionFatal
	}
	if errors.Is(err, provider.ErrThrottled) {
		return ActionThrottle
	}

	var rpcErr *provider.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.CauseName() {
		case "UNKNOWN_BLOCK", "UNKNOWN_CHUNK", "GARBAGE_COLLECTED_BLOCK":
			return ActionNotFound
		case "PARSE_ERROR", "INVALID_ACCOUNT":
			return ActionFatal
		case "NO_SYNCED_BLOCKS", "NOT_SYNCED_YET", "TIMEOUT_ERROR", "INTERNAL_ERROR":
			return ActionRetry
		}
		// -32700: Parse error, -32600: Invalid Request, -32601: Method not found, -32602: Invalid params
		switch rpcErr.Code {
		case -32700, -32600, -32601, -32602:
			return ActionFatal
		}
		if rpcErr.Name == "REQUEST_VALIDATION_ERROR" {
			return ActionFatal
		}
	}

	s := err.Error()
	sLower := strings.ToLower(s)

	if strings.Contains(s, "429") || strings.Contains(sLower, "too many requests") ||
		strings.Contains(s, "403") || strings.Contains(sLower, "forbidden") ||
		strings.Contains(sLower, "rate limit") || strings.Contains(sLower, "throttle") {
		return ActionThrottle
	}

	// Default to Retry (Network, 5xx, etc)
	return ActionRetry
}

// NewBackOff builds the exponential schedule for cfg.
func NewBackOff(cfg RetryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	if cfg.BackoffMultiple > 0 {
		b.Multiplier = cfg.BackoffMultiple
	}
	b.MaxElapsedTime = 0
	return b
}

// CallWithRetry executes an RPC call with exponential backoff. Not-found and
// fatal errors are returned immediately; anything else is retried until
// MaxAttempts is reached, then wrapped in ErrRetriesExhausted.
func CallWithRetry(
	ctx context.Context,
	p provider.Provider,
	method string,
	params any,
	cfg RetryConfig,
) (json.RawMessage, error) {
	var (
		result   json.RawMessage
		lastErr  error
		attempts int
	)

	maxRetries := uint64(0)
	if cfg.MaxAttempts > 1 {
		maxRetries = uint64(cfg.MaxAttempts - 1)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(NewBackOff(cfg), maxRetries), ctx)

	op := func() error {
		attempts++
		r, err := p.Call(ctx, method, params)
		if err == nil {
			result = r
			return nil
		}
		lastErr = err

		switch ClassifyError(err) {
		case ActionFatal, ActionNotFound:
			return backoff.Permanent(err)
		case ActionThrottle:
			// Respect the provider's penalty window on top of the schedule.
			if m, ok := p.(interface{ RetryAfter() time.Duration }); ok {
				if wait := m.RetryAfter(); wait > 0 {
					select {
					case <-ctx.Done():
						return backoff.Permanent(ctx.Err())
					case <-time.After(min(wait, cfg.MaxDelay)):
					}
				}
			}
		}
		return err
	}

	err := backoff.Retry(op, policy)
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if ClassifyError(err) == ActionFatal || ClassifyError(err) == ActionNotFound {
		return nil, err
	}
	if lastErr == nil {
		lastErr = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}
