// Package reporting forwards fatal errors to Sentry. It is a write-only side
// channel: a missing DSN turns every call into a no-op.
package reporting

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config holds error-reporting configuration.
type Config struct {
	SentryDSN   string `yaml:"sentry_dsn"`
	Environment string `yaml:"environment"`
}

// Reporter sends errors to Sentry when configured.
type Reporter struct {
	enabled bool
	tags    map[string]string
}

// New initialises the Sentry SDK. tags are attached to every event.
func New(cfg Config, tags map[string]string) (*Reporter, error) {
	if cfg.SentryDSN == "" {
		return &Reporter{tags: tags}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
	}); err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	return &Reporter{enabled: true, tags: tags}, nil
}

// Enabled reports whether events are actually sent.
func (r *Reporter) Enabled() bool { return r != nil && r.enabled }

// Capture reports err with extra context attributes.
func (r *Reporter) Capture(err error, attrs map[string]any) {
	if err == nil || !r.Enabled() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range r.tags {
			scope.SetTag(k, v)
		}
		for k, v := range attrs {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events to be delivered.
func (r *Reporter) Flush(timeout time.Duration) {
	if !r.Enabled() {
		return
	}
	if !sentry.Flush(timeout) {
		slog.Warn("Sentry flush timed out", "timeout", timeout)
	}
}
