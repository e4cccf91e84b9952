// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Dependency states.
const (
	DependencyOK          = "ok"
	DependencyUnavailable = "unavailable"
	DependencyDisabled    = "disabled"
)

// IndexerHealth contains health metrics for the ingestion pipeline.
type IndexerHealth struct {
	Network         string       `json:"network"`
	Source          string       `json:"source"`
	State           string       `json:"state"`
	Status          SystemStatus `json:"status"`
	CommittedBlock  uint64       `json:"committed_block"`
	ProcessedBlock  uint64       `json:"processed_block"`
	LatestBlock     uint64       `json:"latest_block"`
	BlockLag        uint64       `json:"block_lag"`
	PendingRecords  int          `json:"pending_records"`
	BlocksPerSecond float64      `json:"blocks_per_second"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus  `json:"system_status"`
	Indexer      IndexerHealth `json:"indexer"`
	Database     string        `json:"database"`
	Cache        string        `json:"cache"`
}
