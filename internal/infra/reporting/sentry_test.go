package reporting

import (
	"errors"
	"testing"
	"time"
)

func TestReporter_DisabledWithoutDSN(t *testing.T) {
	r, err := New(Config{}, map[string]string{"network": "testnet"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Enabled() {
		t.Fatal("expected reporter to be disabled")
	}
	// Must be safe no-ops.
	r.Capture(errors.New("boom"), map[string]any{"height": 1})
	r.Flush(time.Millisecond)

	var nilReporter *Reporter
	nilReporter.Capture(errors.New("boom"), nil)
}

func TestReporter_InvalidDSN(t *testing.T) {
	if _, err := New(Config{SentryDSN: "::not a dsn"}, nil); err == nil {
		t.Error("expected error for invalid DSN")
	}
}
