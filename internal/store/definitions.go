package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/marionette/pkg/api"
)

// SaveFlow stores a flow definition
func (s *Store) SaveFlow(ctx context.Context, fl *api.Flow) error {
	if fl.ID == "" {
		return ErrIDEmpty
	}
	if err := api.ValidateSteps(fl.Steps); err != nil {
		return err
	}
	return s.putJSON(ctx, s.key("flow", fl.ID), fl)
}

// GetFlow loads a flow definition
func (s *Store) GetFlow(ctx context.Context, id string) (*api.Flow, error) {
	return getJSON[api.Flow](ctx, s, s.key("flow", id), ErrFlowNotFound, id)
}

// SaveWorkflow stores a workflow definition and indexes it by name
func (s *Store) SaveWorkflow(ctx context.Context, wf *api.Workflow) error {
	if wf.ID == "" {
		return ErrIDEmpty
	}
	data, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("workflow", wf.ID), data, 0)
		if wf.Name != "" {
			pipe.Set(ctx, s.key("workflow-name", wf.Name), wf.ID, 0)
		}
		return nil
	})
	return err
}

// GetWorkflow loads a workflow definition
func (s *Store) GetWorkflow(
	ctx context.Context, id string,
) (*api.Workflow, error) {
	return getJSON[api.Workflow](
		ctx, s, s.key("workflow", id), ErrWorkflowNotFound, id,
	)
}

// GetWorkflowByName resolves a workflow through its name index
func (s *Store) GetWorkflowByName(
	ctx context.Context, name string,
) (*api.Workflow, error) {
	id, err := s.client.Get(ctx, s.key("workflow-name", name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return s.GetWorkflow(ctx, id)
}

// SavePageObject stores one named selector of a page
func (s *Store) SavePageObject(ctx context.Context, po *api.PageObject) error {
	if po.Page == "" || po.Name == "" {
		return ErrIDEmpty
	}
	return s.client.HSet(
		ctx, s.key("page", po.Page), po.Name, po.Selector,
	).Err()
}

// GetSelector looks up the concrete selector of a page object
func (s *Store) GetSelector(
	ctx context.Context, page, name string,
) (string, bool, error) {
	sel, err := s.client.HGet(ctx, s.key("page", page), name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return sel, true, nil
}

// SaveFunction stores a user function
func (s *Store) SaveFunction(ctx context.Context, fn *api.Function) error {
	if fn.Name == "" {
		return ErrIDEmpty
	}
	return s.putJSON(ctx, s.key("function", fn.Name), fn)
}

// GetFunction loads a user function by name
func (s *Store) GetFunction(
	ctx context.Context, name string,
) (*api.Function, error) {
	return getJSON[api.Function](
		ctx, s, s.key("function", name), ErrFunctionNotFound, name,
	)
}

// SaveDataset stores a named dataset
func (s *Store) SaveDataset(ctx context.Context, ds *api.Dataset) error {
	if ds.Name == "" {
		return ErrIDEmpty
	}
	return s.putJSON(ctx, s.key("dataset", ds.Name), ds)
}

// GetDataset loads a dataset by name
func (s *Store) GetDataset(
	ctx context.Context, name string,
) (*api.Dataset, error) {
	return getJSON[api.Dataset](
		ctx, s, s.key("dataset", name), ErrDatasetNotFound, name,
	)
}

// SaveJob stores a scheduled job record
func (s *Store) SaveJob(ctx context.Context, job *api.ScheduledJob) error {
	if job.ID == "" {
		return ErrIDEmpty
	}
	if err := api.ValidateTarget(job.TargetType, job.Target); err != nil {
		return err
	}
	return s.putJSON(ctx, s.key("job", job.ID), job)
}

// GetJob loads a scheduled job record
func (s *Store) GetJob(
	ctx context.Context, id string,
) (*api.ScheduledJob, error) {
	return getJSON[api.ScheduledJob](ctx, s, s.key("job", id), ErrJobNotFound, id)
}
