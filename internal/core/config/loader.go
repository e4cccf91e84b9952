package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/indexer-base/internal/core/domain"
)

// ErrInvalidConfig marks configuration errors that must stop startup.
var ErrInvalidConfig = errors.New("invalid configuration")

//go:embed default.yaml
var defaultTemplate []byte

// Load reads configuration from a YAML file. An empty path uses the embedded
// template, which maps every option to its environment variable.
func Load(path string) (*AppConfig, error) {
	data := defaultTemplate
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv substitutes ${VAR} references. Values that YAML would misread
// (PEM blocks, URLs with credentials) are emitted as quoted scalars.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		v := os.Getenv(key)
		if strings.ContainsAny(v, "\n\r:#'\"{}[],&*!|>%@`") || strings.HasPrefix(v, "-") {
			return strconv.Quote(v)
		}
		return v
	})
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Source.DataSource == "" {
		cfg.Source.DataSource = domain.DataSourceLake
	}
	if cfg.Source.RPCTimeout == 0 {
		cfg.Source.RPCTimeout = 30 * time.Second
	}
	if cfg.Cache.Expiry == 0 {
		cfg.Cache.Expiry = 5 * time.Minute
	}
	if cfg.Genesis.Key == "" {
		cfg.Genesis.Key = "genesis.json"
	}
	// The snapshot lives next to an explicitly configured lake, never in
	// the public network bucket.
	if cfg.Genesis.Bucket == "" {
		cfg.Genesis.Bucket = cfg.Lake.Bucket
	}

	idx := &cfg.Indexer
	if idx.Name == "" {
		idx.Name = "base"
	}
	if idx.InsertLimit == 0 {
		idx.InsertLimit = 1000
	}
	if idx.PreloadSize == 0 {
		idx.PreloadSize = 100
	}
	if idx.FetchWorkers == 0 {
		idx.FetchWorkers = 8
	}
	if idx.Delta == 0 {
		idx.Delta = 1000
	}
	if idx.ShutdownTimeout == 0 {
		idx.ShutdownTimeout = 30 * time.Second
	}

	// Network-derived defaults. Unknown networks are reported by Validate.
	if params, ok := domain.NetworkParamsByName[cfg.Network]; ok {
		if cfg.Source.RPCURL == "" {
			cfg.Source.RPCURL = params.RPCURL
		}
		if cfg.Lake.Bucket == "" {
			cfg.Lake.Bucket = params.LakeBucket
		}
		if cfg.Lake.Region == "" {
			cfg.Lake.Region = params.LakeRegion
		}
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = cfg.Lake.Region
	}
}

// ValidateGenesis checks the options needed to load the genesis snapshot.
func (c *AppConfig) ValidateGenesis() error {
	if c.Genesis.Bucket == "" {
		return fmt.Errorf("%w: genesis bucket is required (set S3_BUCKET or GENESIS_BUCKET, or skip genesis)", ErrInvalidConfig)
	}
	if c.Genesis.Key == "" {
		return fmt.Errorf("%w: genesis key is required", ErrInvalidConfig)
	}
	return nil
}

// Validate checks required options and cross-field invariants.
func (c *AppConfig) Validate() error {
	if _, err := domain.ParamsFor(c.Network); err != nil {
		return fmt.Errorf("%w: network: %v", ErrInvalidConfig, err)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("%w: database url is required", ErrInvalidConfig)
	}
	switch c.Source.DataSource {
	case domain.DataSourceLake:
		if c.Lake.Bucket == "" {
			return fmt.Errorf("%w: lake bucket is required", ErrInvalidConfig)
		}
	case domain.DataSourceFastNear:
		if c.Source.RPCURL == "" {
			return fmt.Errorf("%w: rpc url is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown data source %q", ErrInvalidConfig, c.Source.DataSource)
	}
	if c.Indexer.InsertLimit <= 0 || c.Indexer.PreloadSize <= 0 || c.Indexer.FetchWorkers <= 0 {
		return fmt.Errorf("%w: insert_limit, preload_size and fetch_workers must be positive", ErrInvalidConfig)
	}
	// Every block yields at least one record, so a batch never spans more
	// than insert_limit blocks. The rewind must cover a whole batch.
	if c.Indexer.Delta < uint64(c.Indexer.InsertLimit) {
		return fmt.Errorf(
			"%w: delta (%d) must be >= insert_limit (%d)",
			ErrInvalidConfig,
			c.Indexer.Delta,
			c.Indexer.InsertLimit,
		)
	}
	if (c.Redis.SentinelName == "") != (c.Redis.SentinelURLs == "") {
		return fmt.Errorf("%w: redis sentinel name and urls must be set together", ErrInvalidConfig)
	}
	return nil
}
