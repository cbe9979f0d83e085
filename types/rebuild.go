package types

// RebuildStatus is the lifecycle status of a repository rebuild job.
type RebuildStatus string

const (
	RebuildIdle      RebuildStatus = "idle"
	RebuildRunning   RebuildStatus = "running"
	RebuildSucceeded RebuildStatus = "succeeded"
	RebuildFailed    RebuildStatus = "failed"
)

// RebuildJobView describes the most recent rebuild job known to a session.
type RebuildJobView struct {
	ID       uint64        `json:"id"`
	Status   RebuildStatus `json:"status"`
	Progress string        `json:"progress,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// RebuildRecord is one persisted rebuild outcome.
type RebuildRecord struct {
	JobID      uint64        `json:"jobId"`
	Apps       []string      `json:"apps"`
	Status     RebuildStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  int64         `json:"startedAt"`
	FinishedAt int64         `json:"finishedAt,omitempty"`
}
