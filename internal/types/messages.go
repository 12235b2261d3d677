package types

import "time"

// CheckpointMessage announces a finished corpus checkpoint on the queue.
type CheckpointMessage struct {
	RunID   string `json:"run_id"`
	Path    string `json:"path"`
	Samples int    `json:"samples"`
}

// CorpusStats is the periodic snapshot published to Redis.
type CorpusStats struct {
	RunID        string    `json:"run_id"`
	Size         int       `json:"size"`
	TotalAdded   uint64    `json:"total_added"`
	CleanupRuns  uint64    `json:"cleanup_runs"`
	TotalEvicted uint64    `json:"total_evicted"`
	UpdatedAt    time.Time `json:"updated_at"`
}
