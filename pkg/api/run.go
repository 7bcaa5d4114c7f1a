package api

import "time"

type (
	// NodeStatus is the state of a single node visit
	NodeStatus string

	// TriggerType identifies what started a workflow run
	TriggerType string

	// WorkflowRun is the persisted record of one workflow execution. It is
	// mutated only by the execution that owns it and is terminal once its
	// status leaves running
	WorkflowRun struct {
		StartTime  time.Time   `json:"start_time"`
		EndTime    time.Time   `json:"end_time,omitzero"`
		Context    Vars        `json:"context,omitempty"`
		ID         string      `json:"id"`
		WorkflowID string      `json:"workflow_id"`
		Status     RunStatus   `json:"status"`
		Trigger    TriggerType `json:"trigger_type"`
		Error      string      `json:"error,omitempty"`
		DurationMs int64       `json:"duration_ms"`
	}

	// NodeExecution is the persisted record of one node visit during one
	// workflow run. It is never mutated after it has been finalized
	NodeExecution struct {
		StartTime  time.Time  `json:"start_time"`
		EndTime    time.Time  `json:"end_time,omitzero"`
		Result     any        `json:"result,omitempty"`
		ID         string     `json:"id"`
		RunID      string     `json:"workflow_run_id"`
		NodeID     string     `json:"node_id"`
		Status     NodeStatus `json:"status"`
		Error      string     `json:"error,omitempty"`
		Logs       []string   `json:"logs,omitempty"`
		Artifacts  []string   `json:"artifacts,omitempty"`
		Iteration  int        `json:"iteration,omitempty"`
		DurationMs int64      `json:"duration_ms"`
	}

	// WorkflowRunDetail pairs a run with every node execution it recorded
	WorkflowRunDetail struct {
		Run        *WorkflowRun     `json:"run"`
		Executions []*NodeExecution `json:"executions"`
	}
)

const (
	NodePending NodeStatus = "pending"
	NodeRunning NodeStatus = "running"
	NodePassed  NodeStatus = "passed"
	NodeFailed  NodeStatus = "failed"
	NodeSkipped NodeStatus = "skipped"

	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerWebhook   TriggerType = "webhook"
)

// Finish stamps the run's end time, duration and terminal status
func (r *WorkflowRun) Finish(status RunStatus, now time.Time) {
	r.Status = status
	r.EndTime = now
	r.DurationMs = now.Sub(r.StartTime).Milliseconds()
}

// Finish stamps the execution's end time, duration and final status
func (e *NodeExecution) Finish(status NodeStatus, now time.Time) {
	e.Status = status
	e.EndTime = now
	e.DurationMs = now.Sub(e.StartTime).Milliseconds()
}

// Finish stamps the flow run's end time, duration and final status
func (r *FlowRun) Finish(res *FlowResult, now time.Time) {
	r.Status = res.Status
	r.Logs = res.Logs
	r.Artifacts = res.Artifacts
	r.EndTime = now
	r.DurationMs = res.DurationMs
}
