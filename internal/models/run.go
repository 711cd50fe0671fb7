package models

import "time"

// RunStatus is the lifecycle state of one ingestion run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Terminal reports whether a run status can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunPartial || s == RunFailed
}

// RunCounters summarizes what an ingestion run did.
type RunCounters struct {
	ItemsFetched int `json:"items_fetched"`
	ItemsNew     int `json:"items_new"`
	ItemsAmended int `json:"items_amended"`
}

// Run records one ingestion attempt for one source.
type Run struct {
	ID         int64      `json:"id"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Counters   RunCounters `json:"counters"`
}
