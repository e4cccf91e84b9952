// Package provider implements the JSON-RPC transport used by the live-node
// block source.
//
// This package contains:
//   - Provider interface: core abstraction for an RPC endpoint
//   - HTTPProvider: JSON-RPC 2.0 over HTTP
//   - ProviderMonitor: latency and throttle tracking
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrThrottled is returned while the endpoint is rate limiting or blocking us.
var ErrThrottled = errors.New("provider throttled")

// Provider defines an RPC endpoint with health tracking.
type Provider interface {
	// GetName returns provider identifier (e.g., "archival-rpc")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the provider is healthy enough to use
	IsAvailable() bool

	// Call makes a single JSON-RPC request and returns the raw result.
	// NEAR methods take named params, so params is usually a map or struct.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Close cleans up resources
	Close() error
}

// RPCError is a JSON-RPC error object. NEAR nodes add a structured
// name/cause pair next to the standard code and message.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Name    string          `json:"name"`
	Cause   *ErrorCause     `json:"cause,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrorCause identifies the specific failure inside an error category.
type ErrorCause struct {
	Name string          `json:"name"`
	Info json.RawMessage `json:"info,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rpc error %d %s/%s: %s", e.Code, e.Name, e.Cause.Name, e.Message)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// CauseName returns the cause name or "" when absent.
func (e *RPCError) CauseName() string {
	if e.Cause == nil {
		return ""
	}
	return e.Cause.Name
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool
	Latency       time.Duration
	ErrorRate     float64
	LastSuccessAt time.Time
	LastFailureAt time.Time
	MonitorStats  *MonitorStats `json:"monitor_stats,omitempty"`
}
