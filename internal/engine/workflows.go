package engine

import (
	"context"
	"log/slog"

	"github.com/kode4food/marionette/internal/workflow"
	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/log"
)

// StartWorkflow creates the run record of a stored workflow and executes it
// in the background. The returned run ID is also the run's registry key
func (e *Engine) StartWorkflow(
	ctx context.Context, workflowID string, trigger api.TriggerType,
	inputs api.Vars,
) (string, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	return e.startWorkflow(ctx, wf, trigger, inputs)
}

// StartWorkflowByName is StartWorkflow for a workflow looked up by name
func (e *Engine) StartWorkflowByName(
	ctx context.Context, name string, trigger api.TriggerType,
	inputs api.Vars,
) (string, error) {
	wf, err := e.store.GetWorkflowByName(ctx, name)
	if err != nil {
		return "", err
	}
	return e.startWorkflow(ctx, wf, trigger, inputs)
}

// RunWorkflow executes a stored workflow and returns its finished run record
func (e *Engine) RunWorkflow(
	ctx context.Context, workflowID string, trigger api.TriggerType,
	inputs api.Vars,
) (*api.WorkflowRun, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	x, err := e.prepareWorkflow(ctx, wf, trigger, inputs)
	if err != nil {
		return nil, err
	}
	defer e.runs.Unregister(x.RunID(), x)
	return x.Run(ctx), nil
}

func (e *Engine) startWorkflow(
	ctx context.Context, wf *api.Workflow, trigger api.TriggerType,
	inputs api.Vars,
) (string, error) {
	x, err := e.prepareWorkflow(ctx, wf, trigger, inputs)
	if err != nil {
		return "", err
	}

	e.wg.Go(func() {
		defer e.runs.Unregister(x.RunID(), x)
		x.Run(e.ctx)
	})
	return x.RunID(), nil
}

func (e *Engine) prepareWorkflow(
	ctx context.Context, wf *api.Workflow, trigger api.TriggerType,
	inputs api.Vars,
) (*workflow.Execution, error) {
	if e.stopped() {
		return nil, ErrEngineStopped
	}
	x, err := e.workflows.Prepare(ctx, wf, trigger, inputs)
	if err != nil {
		return nil, err
	}
	if err := e.runs.Register(x.RunID(), x); err != nil {
		return nil, err
	}
	slog.Info("Workflow accepted",
		log.RunID(x.RunID()),
		log.WorkflowID(wf.ID),
		slog.String("trigger", string(trigger)))
	return x, nil
}
