package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Pool spreads calls over several endpoints of the same network. A call
// that fails in transport moves on to the next endpoint. An RPC error from
// an endpoint that is not throttling is the node's answer and is returned.
type Pool struct {
	mu        sync.Mutex
	providers []Provider
	current   int
	log       *slog.Logger
}

// NewPool creates a pool. It needs at least one provider.
func NewPool(providers ...Provider) (*Pool, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers in pool")
	}
	return &Pool{
		providers: providers,
		log:       slog.Default().With("component", "rpc_pool"),
	}, nil
}

// NewHTTPPool builds a pool from a comma separated list of endpoints.
func NewHTTPPool(name, endpoints string, timeout time.Duration) (*Pool, error) {
	var providers []Provider
	for i, ep := range strings.Split(endpoints, ",") {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		providers = append(providers, NewHTTPProvider(fmt.Sprintf("%s-%d", name, i), ep, timeout))
	}
	return NewPool(providers...)
}

// next returns providers in round-robin order starting after the last one
// used, available ones first.
func (p *Pool) next() []Provider {
	p.mu.Lock()
	start := p.current
	p.current = (p.current + 1) % len(p.providers)
	p.mu.Unlock()

	ordered := make([]Provider, 0, len(p.providers))
	var unavailable []Provider
	for i := range p.providers {
		prov := p.providers[(start+i)%len(p.providers)]
		if prov.IsAvailable() {
			ordered = append(ordered, prov)
		} else {
			unavailable = append(unavailable, prov)
		}
	}
	return append(ordered, unavailable...)
}

// Call tries each endpoint once until one answers.
func (p *Pool) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var lastErr error
	for _, prov := range p.next() {
		raw, err := prov.Call(ctx, method, params)
		if err == nil {
			return raw, nil
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && prov.IsAvailable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		p.log.Debug("Endpoint failed, trying next", "provider", prov.GetName(), "method", method, "error", err)
		lastErr = err
	}
	return nil, lastErr
}

// GetName returns the pool name built from its members.
func (p *Pool) GetName() string {
	names := make([]string, len(p.providers))
	for i, prov := range p.providers {
		names[i] = prov.GetName()
	}
	return "pool(" + strings.Join(names, ",") + ")"
}

// GetHealth reports the healthiest member.
func (p *Pool) GetHealth() HealthStatus {
	var best HealthStatus
	for i, prov := range p.providers {
		h := prov.GetHealth()
		if i == 0 || (h.Available && !best.Available) || (h.Available == best.Available && h.ErrorRate < best.ErrorRate) {
			best = h
		}
	}
	return best
}

// IsAvailable reports whether any member is usable.
func (p *Pool) IsAvailable() bool {
	for _, prov := range p.providers {
		if prov.IsAvailable() {
			return true
		}
	}
	return false
}

// Watch logs members that become unavailable until ctx is done.
func (p *Pool) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	down := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, prov := range p.providers {
				name := prov.GetName()
				available := prov.IsAvailable()
				if !available && !down[name] {
					h := prov.GetHealth()
					p.log.Warn("RPC endpoint unavailable", "provider", name, "error_rate", h.ErrorRate)
				} else if available && down[name] {
					p.log.Info("RPC endpoint recovered", "provider", name)
				}
				down[name] = !available
			}
		}
	}
}

// Close closes every member.
func (p *Pool) Close() error {
	var errs []error
	for _, prov := range p.providers {
		if err := prov.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Provider = (*Pool)(nil)
