package domain

import "time"

// ScanState is the terminal state of one background scan run.
type ScanState string

const (
	ScanComplete ScanState = "complete"
	ScanStopped  ScanState = "stopped"
)

// ScanReport summarises a background scan run.
type ScanReport struct {
	Action   ActionType
	State    ScanState
	Degraded RateStatus
	From     uint64
	Cursor   uint64
	Pages    int
	Computed int
	Cached   int
}

// TaskState mirrors the lifecycle of a dispatched scan task.
type TaskState string

const (
	TaskPending TaskState = "PENDING"
	TaskStarted TaskState = "STARTED"
	TaskSuccess TaskState = "SUCCESS"
	TaskStopped TaskState = "STOPPED"
	TaskFailure TaskState = "FAILURE"
	// TaskSkipped marks a request that arrived while another scan was running.
	TaskSkipped TaskState = "SKIPPED"
)

// ScanTask is a request to run the background scanner once.
type ScanTask struct {
	ID        string     `json:"id"`
	Action    ActionType `json:"action"`
	State     TaskState  `json:"state"`
	Error     string     `json:"error,omitempty"`
	Cursor    uint64     `json:"cursor,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}
