package postgres

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/indexer-base/internal/indexing/metrics"
)

// Config holds PostgreSQL connection configuration.
// CA, Cert and Key accept either PEM content or a file path.
type Config struct {
	URL      string `yaml:"url"`
	CA       string `yaml:"ca"`
	Cert     string `yaml:"cert"`
	Key      string `yaml:"key"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	*sqlx.DB
}

// NewDB opens a pool through the pgx stdlib driver and pings it.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	connConfig, err := pgx.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	tlsConfig, err := buildTLS(cfg, connConfig.Host)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		connConfig.TLSConfig = tlsConfig
		for _, fb := range connConfig.Fallbacks {
			fb.TLSConfig = tlsConfig
		}
	}

	db := sqlx.NewDb(stdlib.OpenDB(*connConfig), "pgx")

	// Set pool configuration
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}

	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}

	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// buildTLS returns nil when no TLS material is configured.
func buildTLS(cfg Config, host string) (*tls.Config, error) {
	if cfg.CA == "" && cfg.Cert == "" && cfg.Key == "" {
		return nil, nil
	}
	if (cfg.Cert == "") != (cfg.Key == "") {
		return nil, errors.New("database cert and key must be set together")
	}

	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	if cfg.CA != "" {
		caPEM, err := pemOrFile(cfg.CA)
		if err != nil {
			return nil, fmt.Errorf("database ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, errors.New("database ca: no certificates found")
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.Cert != "" {
		certPEM, err := pemOrFile(cfg.Cert)
		if err != nil {
			return nil, fmt.Errorf("database cert: %w", err)
		}
		keyPEM, err := pemOrFile(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("database key: %w", err)
		}
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("database client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{pair}
	}

	return tlsConfig, nil
}

func pemOrFile(v string) ([]byte, error) {
	if strings.Contains(v, "-----BEGIN") {
		return []byte(v), nil
	}
	return os.ReadFile(v)
}

// CollectMetrics samples pool usage every interval until ctx is done.
func (db *DB) CollectMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if usage, ok := poolUsage(db.DB.Stats()); ok {
				metrics.DBConnectionPoolUsage.Set(usage)
			}
		}
	}
}

// poolUsage is the share of open connections in percent. Unbounded pools
// have no usage.
func poolUsage(stats sql.DBStats) (float64, bool) {
	if stats.MaxOpenConnections <= 0 {
		return 0, false
	}
	return float64(stats.OpenConnections) / float64(stats.MaxOpenConnections) * 100, true
}

// Ping checks if the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}
