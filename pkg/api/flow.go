package api

import "time"

type (
	// RunStatus is the terminal or in-progress state of a flow or workflow run
	RunStatus string

	// Flow is a named, stored sequence of steps
	Flow struct {
		ID          string  `json:"id" yaml:"id"`
		Name        string  `json:"name" yaml:"name"`
		Description string  `json:"description,omitempty" yaml:"description"`
		Steps       []*Step `json:"steps" yaml:"steps"`
	}

	// FlowResult is produced at the end of a Flow Runner invocation and is
	// immutable after creation
	FlowResult struct {
		Success    bool      `json:"success"`
		Status     RunStatus `json:"status"`
		Logs       []string  `json:"logs"`
		Artifacts  []string  `json:"artifacts,omitempty"`
		DurationMs int64     `json:"duration_ms"`
	}

	// FlowRun is the persisted record of a bare flow run
	FlowRun struct {
		StartTime  time.Time `json:"start_time"`
		EndTime    time.Time `json:"end_time,omitzero"`
		ID         string    `json:"id"`
		FlowID     string    `json:"flow_id"`
		Key        string    `json:"key,omitempty"`
		Status     RunStatus `json:"status"`
		Logs       []string  `json:"logs"`
		Artifacts  []string  `json:"artifacts,omitempty"`
		DurationMs int64     `json:"duration_ms"`
	}
)

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusPassed    RunStatus = "passed"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusAborted   RunStatus = "aborted"
)

// AdHocFlowID identifies runs of step lists that are not stored flows
const AdHocFlowID = "0"

// IsTerminal reports whether the status can no longer change
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusCompleted, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}
