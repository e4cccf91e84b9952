package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/indexer-base/internal/infra/rpc/provider"
)

func TestClassifyError(t *testing.T) {
	unknownBlock := &provider.RPCError{
		Code: -32000, Name: "HANDLER_ERROR",
		Cause: &provider.ErrorCause{Name: "UNKNOWN_BLOCK"},
	}

	tests := []struct {
		err    error
		expect ErrorAction
	}{
		{errors.New("429 Too Many Requests"), ActionThrottle},
		{errors.New("project rate limit exceeded"), ActionThrottle},
		{errors.New("403 Forbidden"), ActionThrottle},
		{fmt.Errorf("wrapped: %w", provider.ErrThrottled), ActionThrottle},
		{unknownBlock, ActionNotFound},
		{fmt.Errorf("block 5: %w", unknownBlock), ActionNotFound},
		{&provider.RPCError{Code: -32601, Message: "Method not found"}, ActionFatal},
		{&provider.RPCError{Code: -32700, Message: "Parse error"}, ActionFatal},
		{&provider.RPCError{Code: -32000, Name: "HANDLER_ERROR", Cause: &provider.ErrorCause{Name: "NO_SYNCED_BLOCKS"}}, ActionRetry},
		{errors.New("connection reset by peer"), ActionRetry},
		{errors.New("timeout"), ActionRetry},
		{errors.New("500 Internal Server Error"), ActionRetry},
		{context.Canceled, ActionFatal},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.expect {
			t.Errorf("ClassifyError(%q) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

type scriptedProvider struct {
	errs  []error
	calls int
}

func (s *scriptedProvider) GetName() string                  { return "scripted" }
func (s *scriptedProvider) GetHealth() provider.HealthStatus { return provider.HealthStatus{} }
func (s *scriptedProvider) IsAvailable() bool                { return true }
func (s *scriptedProvider) Close() error                     { return nil }

func (s *scriptedProvider) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return json.RawMessage(`"ok"`), nil
}

var fastRetry = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    time.Millisecond,
	MaxDelay:        5 * time.Millisecond,
	BackoffMultiple: 2,
}

func TestCallWithRetry_RecoversFromTransient(t *testing.T) {
	p := &scriptedProvider{errs: []error{errors.New("connection reset"), errors.New("timeout")}}

	res, err := CallWithRetry(context.Background(), p, "status", nil, fastRetry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res) != `"ok"` || p.calls != 3 {
		t.Errorf("unexpected result %s after %d calls", res, p.calls)
	}
}

func TestCallWithRetry_Exhausted(t *testing.T) {
	e := errors.New("connection refused")
	p := &scriptedProvider{errs: []error{e, e, e, e}}

	_, err := CallWithRetry(context.Background(), p, "status", nil, fastRetry)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if p.calls != 3 {
		t.Errorf("expected 3 calls, got %d", p.calls)
	}
}

func TestCallWithRetry_NotFoundIsNotRetried(t *testing.T) {
	nf := &provider.RPCError{Name: "HANDLER_ERROR", Cause: &provider.ErrorCause{Name: "UNKNOWN_CHUNK"}}
	p := &scriptedProvider{errs: []error{nf}}

	_, err := CallWithRetry(context.Background(), p, "chunk", nil, fastRetry)
	var rpcErr *provider.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	if p.calls != 1 {
		t.Errorf("expected a single call, got %d", p.calls)
	}
}
