package domain

import "time"

// Checkpoint is the durable ingestion progress marker.
type Checkpoint struct {
	Name                string
	LastCommittedHeight uint64
	UpdatedAt           time.Time
}
