package config

import (
	"time"

	"github.com/vietddude/indexer-base/internal/core/domain"
	"github.com/vietddude/indexer-base/internal/infra/objstore"
	redisclient "github.com/vietddude/indexer-base/internal/infra/redis"
	"github.com/vietddude/indexer-base/internal/infra/reporting"
	"github.com/vietddude/indexer-base/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
// It is built once at startup and passed by value into constructors.
type AppConfig struct {
	Network   domain.Network     `yaml:"network"`
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Source    SourceConfig       `yaml:"source"`
	S3        objstore.Config    `yaml:"s3"`
	Lake      LakeConfig         `yaml:"lake"`
	Genesis   GenesisConfig      `yaml:"genesis"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	Cache     CacheConfig        `yaml:"cache"`
	Indexer   IndexerConfig      `yaml:"indexer"`
	Reporting reporting.Config   `yaml:"reporting"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// SourceConfig selects and tunes the block source.
type SourceConfig struct {
	DataSource domain.DataSource `yaml:"data_source"`
	StartBlock uint64            `yaml:"start_block"` // 0 = use checkpoint
	RPCURL     string            `yaml:"rpc_url"`
	RPCTimeout time.Duration     `yaml:"rpc_timeout"`
}

// LakeConfig holds the lake bucket layout.
type LakeConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
}

// GenesisConfig locates the genesis snapshot.
type GenesisConfig struct {
	Bucket string `yaml:"bucket"`
	Key    string `yaml:"key"`
}

// CacheConfig tunes the cache coordinator.
type CacheConfig struct {
	Expiry time.Duration `yaml:"expiry"`
}

// IndexerConfig tunes prefetching, batching and resume.
type IndexerConfig struct {
	Name            string        `yaml:"name"`
	InsertLimit     int           `yaml:"insert_limit"`
	PreloadSize     int           `yaml:"preload_size"`
	FetchWorkers    int           `yaml:"fetch_workers"`
	Delta           uint64        `yaml:"delta"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Params returns the network constants for the configured network.
func (c *AppConfig) Params() domain.NetworkParams {
	return domain.NetworkParamsByName[c.Network]
}
