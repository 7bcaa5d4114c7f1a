package engine

import (
	"context"

	"github.com/kode4food/marionette/pkg/api"
)

// GetFlowRun loads a flow run record
func (e *Engine) GetFlowRun(
	ctx context.Context, runID string,
) (*api.FlowRun, error) {
	return e.store.GetFlowRun(ctx, runID)
}

// ListFlowRuns returns the most recent flow runs, newest first
func (e *Engine) ListFlowRuns(
	ctx context.Context, limit int,
) ([]*api.FlowRun, error) {
	return e.store.ListFlowRuns(ctx, limit)
}

// ListWorkflowRuns returns the most recent runs of a workflow
func (e *Engine) ListWorkflowRuns(
	ctx context.Context, workflowID string, limit int,
) ([]*api.WorkflowRun, error) {
	return e.store.ListWorkflowRuns(ctx, workflowID, limit)
}

// GetWorkflowRun loads a workflow run together with its node executions
func (e *Engine) GetWorkflowRun(
	ctx context.Context, runID string,
) (*api.WorkflowRunDetail, error) {
	return e.store.GetWorkflowRunDetail(ctx, runID)
}

// Ping reports whether the persistence store is reachable
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}
