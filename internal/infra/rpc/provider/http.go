package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/indexer-base/internal/indexing/metrics"
)

// HTTPProvider implements Provider for JSON-RPC 2.0 over HTTP.
type HTTPProvider struct {
	name       string
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Uint64

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int

	Monitor *ProviderMonitor
}

// NewHTTPProvider creates a new HTTP-based RPC provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
		Monitor: NewProviderMonitor(),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call makes a single JSON-RPC call. RPC-level failures are returned as *RPCError.
func (p *HTTPProvider) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	start := time.Now()
	metrics.RPCCallsTotal.WithLabelValues(p.name, method).Inc()

	if status := p.Monitor.CheckProviderStatus(); status == StatusThrottled || status == StatusBlocked {
		return nil, fmt.Errorf("%w, retry after: %v", ErrThrottled, p.Monitor.GetRetryAfter())
	}

	jsonData, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      p.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	// Rate limit detection
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		p.Monitor.RecordThrottle(http.StatusTooManyRequests, retryAfter)
		p.recordFailure()
		return nil, fmt.Errorf("rate limited (429), retry after: %s", retryAfter)
	}

	// IP blocked detection
	if resp.StatusCode == http.StatusForbidden {
		p.Monitor.RecordThrottle(http.StatusForbidden, "")
		p.recordFailure()
		return nil, fmt.Errorf("ip blocked (403)")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	// NEAR nodes answer handler errors with a JSON-RPC body on non-200 codes,
	// so try the body before giving up on the status.
	var rpcResp rpcResponse
	if jerr := json.Unmarshal(body, &rpcResp); jerr != nil || (rpcResp.Error == nil && rpcResp.Result == nil) {
		p.recordFailure()
		if p.Monitor.DetectThrottlePattern(string(body)) {
			return nil, fmt.Errorf("throttle detected in response: %s", string(body))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
		}
		if jerr != nil {
			return nil, fmt.Errorf("parse response: %w", jerr)
		}
		return nil, fmt.Errorf("empty rpc response")
	}

	if rpcResp.Error != nil {
		p.recordFailure()
		if p.Monitor.DetectThrottlePattern(rpcResp.Error.Message) {
			return nil, fmt.Errorf("throttle in rpc error: %w", rpcResp.Error)
		}
		return nil, rpcResp.Error
	}

	p.Monitor.RecordRequest(latency)
	p.recordSuccess(latency)
	metrics.RPCLatency.WithLabelValues(p.name, method).Observe(latency.Seconds())

	return rpcResp.Result, nil
}

// GetName returns the provider's name.
func (p *HTTPProvider) GetName() string {
	return p.name
}

// GetHealth returns the provider's health status.
func (p *HTTPProvider) GetHealth() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h := p.health
	stats := p.Monitor.GetStats()
	h.MonitorStats = &stats
	return h
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// IsAvailable checks if the provider is available.
func (p *HTTPProvider) IsAvailable() bool {
	status := p.Monitor.CheckProviderStatus()
	return status == StatusHealthy || status == StatusDegraded
}

func (p *HTTPProvider) recordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCount++
	p.requestCount++
	p.totalLatency += latency
	p.health.LastSuccessAt = time.Now()
	p.health.Available = true

	p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	p.health.Latency = p.totalLatency / time.Duration(p.successCount)
}

func (p *HTTPProvider) recordFailure() {
	metrics.RPCErrorsTotal.WithLabelValues(p.name, "call").Inc()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount++
	p.requestCount++
	p.health.LastFailureAt = time.Now()
	p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)

	if p.health.ErrorRate > 0.5 {
		p.health.Available = false
	}
}

// RetryAfter returns the remaining throttle penalty, zero when none.
func (p *HTTPProvider) RetryAfter() time.Duration {
	return p.Monitor.GetRetryAfter()
}
