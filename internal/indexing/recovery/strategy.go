package recovery

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExponentialBackoff retries transient failures with a capped, growing delay.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int // 0 = until the context ends
	Classifier   Classifier
}

// DefaultBackoff waits 500ms, 1s, 2s ... up to 10s and never gives up on a
// transient error.
func DefaultBackoff(classifier Classifier) *ExponentialBackoff {
	if classifier == nil {
		classifier = Classify
	}
	return &ExponentialBackoff{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Classifier:   classifier,
	}
}

// BackOff builds the jittered policy used by Retry.
func (s *ExponentialBackoff) BackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.InitialDelay
	b.MaxInterval = s.MaxDelay
	b.MaxElapsedTime = 0

	var bo backoff.BackOff = b
	if s.MaxAttempts > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(s.MaxAttempts))
	}
	return backoff.WithContext(bo, ctx)
}

// Retry runs op until it succeeds, fails with a non-transient error, runs out
// of attempts or ctx ends. notify may be nil.
func (s *ExponentialBackoff) Retry(ctx context.Context, op func() error, notify func(err error, wait time.Duration)) error {
	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if s.Classifier(err) != CategoryTransient {
			return backoff.Permanent(err)
		}
		return err
	}, s.BackOff(ctx), notify)
}
