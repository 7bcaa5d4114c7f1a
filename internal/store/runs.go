package store

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/marionette/pkg/api"
)

// saveNodeExecution stores a node execution and appends its ID to the run's
// ordered index the first time it is seen
var saveNodeExecution = redis.NewScript(`
redis.call("SET", KEYS[1], ARGV[2])
if redis.call("SADD", KEYS[2], ARGV[1]) == 1 then
	redis.call("RPUSH", KEYS[3], ARGV[1])
end
return 1
`)

// SaveFlowRun writes a flow run record and indexes it by start time.
// Saving again overwrites the record in place
func (s *Store) SaveFlowRun(ctx context.Context, run *api.FlowRun) error {
	if run.ID == "" {
		return ErrIDEmpty
	}
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("flow-run", run.ID), data, 0)
		pipe.ZAdd(ctx, s.key("flow-runs"), redis.Z{
			Score:  float64(run.StartTime.UnixMilli()),
			Member: run.ID,
		})
		return nil
	})
	return err
}

// GetFlowRun loads a flow run record
func (s *Store) GetFlowRun(
	ctx context.Context, id string,
) (*api.FlowRun, error) {
	return getJSON[api.FlowRun](
		ctx, s, s.key("flow-run", id), ErrFlowRunNotFound, id,
	)
}

// ListFlowRuns returns the most recent flow runs, newest first
func (s *Store) ListFlowRuns(
	ctx context.Context, limit int,
) ([]*api.FlowRun, error) {
	ids, err := s.client.ZRevRange(
		ctx, s.key("flow-runs"), 0, clampLimit(limit)-1,
	).Result()
	if err != nil {
		return nil, err
	}
	return getJSONList[api.FlowRun](ctx, s, s.keys("flow-run", ids))
}

// SaveWorkflowRun writes a workflow run record and indexes it under its
// workflow by start time
func (s *Store) SaveWorkflowRun(
	ctx context.Context, run *api.WorkflowRun,
) error {
	if run.ID == "" {
		return ErrIDEmpty
	}
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("wf-run", run.ID), data, 0)
		pipe.ZAdd(ctx, s.key("wf-runs", run.WorkflowID), redis.Z{
			Score:  float64(run.StartTime.UnixMilli()),
			Member: run.ID,
		})
		return nil
	})
	return err
}

// GetWorkflowRun loads a workflow run record
func (s *Store) GetWorkflowRun(
	ctx context.Context, id string,
) (*api.WorkflowRun, error) {
	return getJSON[api.WorkflowRun](
		ctx, s, s.key("wf-run", id), ErrWorkflowRunNotFound, id,
	)
}

// ListWorkflowRuns returns the most recent runs of a workflow, newest first
func (s *Store) ListWorkflowRuns(
	ctx context.Context, workflowID string, limit int,
) ([]*api.WorkflowRun, error) {
	ids, err := s.client.ZRevRange(
		ctx, s.key("wf-runs", workflowID), 0, clampLimit(limit)-1,
	).Result()
	if err != nil {
		return nil, err
	}
	return getJSONList[api.WorkflowRun](ctx, s, s.keys("wf-run", ids))
}

// SaveNodeExecution writes a node execution record. The first save of an
// execution appends it to its run's execution list
func (s *Store) SaveNodeExecution(
	ctx context.Context, ex *api.NodeExecution,
) error {
	if ex.ID == "" || ex.RunID == "" {
		return ErrIDEmpty
	}
	data, err := json.Marshal(ex)
	if err != nil {
		return err
	}
	return saveNodeExecution.Run(ctx, s.client,
		[]string{
			s.key("node-exec", ex.ID),
			s.key("wf-run-node-ids", ex.RunID),
			s.key("wf-run-nodes", ex.RunID),
		},
		ex.ID, data,
	).Err()
}

// ListNodeExecutions returns every node execution of a run in the order
// the executions began
func (s *Store) ListNodeExecutions(
	ctx context.Context, runID string,
) ([]*api.NodeExecution, error) {
	ids, err := s.client.LRange(ctx, s.key("wf-run-nodes", runID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return getJSONList[api.NodeExecution](ctx, s, s.keys("node-exec", ids))
}

// GetWorkflowRunDetail loads a run together with its node executions
func (s *Store) GetWorkflowRunDetail(
	ctx context.Context, runID string,
) (*api.WorkflowRunDetail, error) {
	run, err := s.GetWorkflowRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	execs, err := s.ListNodeExecutions(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &api.WorkflowRunDetail{Run: run, Executions: execs}, nil
}

func (s *Store) keys(kind string, ids []string) []string {
	res := make([]string, len(ids))
	for i, id := range ids {
		res[i] = s.key(kind, id)
	}
	return res
}
