package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksProcessed tracks total blocks extracted and handed to the writer
	BlocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
		[]string{"network"},
	)

	// RecordsWritten tracks committed records per kind
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_records_written_total",
			Help: "Total number of records committed",
		},
		[]string{"network", "kind"},
	)

	// BatchCommits tracks batch commit outcomes (ok, retried, failed)
	BatchCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_batch_commits_total",
			Help: "Total number of batch commits by result",
		},
		[]string{"network", "result"},
	)

	// BatchCommitDuration tracks how long a batch commit takes
	BatchCommitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_batch_commit_duration_seconds",
			Help:    "Batch commit duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"network"},
	)

	// DBBatchSize tracks rows per multi-row statement
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_db_batch_size",
			Help:    "Rows per multi-row upsert",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"table"},
	)

	// DBConnectionPoolUsage tracks pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_db_connection_pool_usage_percent",
			Help: "Open connections as a percentage of the pool limit",
		},
	)

	// RPCCallsTotal tracks RPC calls per provider and method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"provider", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// SourceFetchDuration tracks a full block fetch including chunks
	SourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_source_fetch_duration_seconds",
			Help:    "Block fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// SourceRetries tracks fetch retries by reason (not_yet_available, transient)
	SourceRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_source_retries_total",
			Help: "Total number of block fetch retries",
		},
		[]string{"source", "reason"},
	)

	// PrefetchBuffered tracks blocks held in the prefetch window
	PrefetchBuffered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_prefetch_buffered_blocks",
			Help: "Blocks fetched or in flight ahead of the consumer",
		},
	)

	// ChainLatestBlock tracks the latest block height of the chain
	ChainLatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_chain_latest_block",
			Help: "Latest block height of the chain",
		},
		[]string{"network"},
	)

	// IndexerLatestBlock tracks the latest committed block
	IndexerLatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_latest_block",
			Help: "Latest block height committed by the indexer",
		},
		[]string{"network"},
	)

	// CheckpointHeight tracks the durable checkpoint
	CheckpointHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_checkpoint_height",
			Help: "Last committed height recorded in the checkpoint",
		},
		[]string{"name"},
	)

	// CacheRequests tracks cache lookups by result (hit, miss, error)
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_cache_requests_total",
			Help: "Total number of cache requests by result",
		},
		[]string{"op", "result"},
	)

	// GenesisAccounts tracks accounts written by the genesis bootstrap
	GenesisAccounts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_genesis_accounts_total",
			Help: "Accounts written from the genesis snapshot",
		},
	)
)
