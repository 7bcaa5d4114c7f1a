package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kode4food/marionette/internal/flow"
	"github.com/kode4food/marionette/internal/workflow"
	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/log"
)

// RunFlow executes a stored flow or an inline step list to completion. The
// run is persisted as a FlowRun and is registered for its whole duration
func (e *Engine) RunFlow(
	ctx context.Context, req *api.RunFlowRequest,
) (*api.RunFlowResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	flowID := api.AdHocFlowID
	if req.FlowID != "" {
		flowID = req.FlowID
	}
	steps := req.Steps
	if len(steps) == 0 {
		fl, err := e.store.GetFlow(ctx, req.FlowID)
		if err != nil {
			return nil, err
		}
		steps = fl.Steps
	}

	headless := e.config.Headless
	if req.Headless != nil {
		headless = *req.Headless
	}

	runID := uuid.NewString()
	res, err := e.runFlow(ctx, runID, runID, flowID, steps, req.Data, headless)
	if err != nil {
		return nil, err
	}
	return &api.RunFlowResponse{FlowResult: res, RunID: runID}, nil
}

// RunSuite executes stored flows with at most the requested number in
// flight. Each flow gets its own session and registry key, and results are
// returned in request order
func (e *Engine) RunSuite(
	ctx context.Context, req *api.RunSuiteRequest,
) (*api.SuiteResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	limit := e.suiteConcurrency(req.Concurrency)
	slog.Info("Suite started",
		slog.String("tag", req.Tag),
		slog.Int("flows", len(req.FlowIDs)),
		slog.Int("concurrency", limit))

	at := time.Now()
	results := make([]*api.SuiteFlowResult, len(req.FlowIDs))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, flowID := range req.FlowIDs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = &api.SuiteFlowResult{
				FlowID: flowID,
				Error:  ctx.Err().Error(),
			}
			continue
		}
		wg.Go(func() {
			defer func() { <-sem }()
			results[i] = e.runSuiteFlow(ctx, req.Tag, i, flowID, at)
		})
	}
	wg.Wait()

	res := &api.SuiteResponse{Results: results}
	for _, r := range results {
		switch {
		case r.FlowResult == nil:
			res.Failed++
		case r.Status == api.StatusAborted:
			res.Aborted++
		case r.Success:
			res.Passed++
		default:
			res.Failed++
		}
	}
	slog.Info("Suite finished",
		slog.String("tag", req.Tag),
		slog.Int("passed", res.Passed),
		slog.Int("failed", res.Failed),
		slog.Int("aborted", res.Aborted))
	return res, nil
}

func (e *Engine) runSuiteFlow(
	ctx context.Context, tag string, idx int, flowID string, at time.Time,
) *api.SuiteFlowResult {
	res := &api.SuiteFlowResult{FlowID: flowID}
	fl, err := e.store.GetFlow(ctx, flowID)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	name := fl.Name
	if name == "" {
		name = fl.ID
	}
	res.RunKey = api.SuiteRunKey(tag, fmt.Sprintf("%d-%s", idx+1, name), at)
	fr, err := e.runFlow(
		ctx, uuid.NewString(), res.RunKey, fl.ID, fl.Steps, nil,
		e.config.Headless,
	)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.FlowResult = fr
	return res
}

func (e *Engine) runFlow(
	ctx context.Context, runID, key, flowID string, steps []*api.Step,
	vars api.Vars, headless bool,
) (*api.FlowResult, error) {
	if e.stopped() {
		return nil, ErrEngineStopped
	}

	r := e.newRunner(flowID, headless, func(line string) {
		e.events.Publish(&api.Event{
			Type:    api.EventTypeFlowLog,
			RunID:   runID,
			Message: line,
		})
	})
	if err := e.runs.Register(key, r); err != nil {
		return nil, err
	}
	defer e.runs.Unregister(key, r)

	run := &api.FlowRun{
		ID:        runID,
		FlowID:    flowID,
		Key:       key,
		Status:    api.StatusRunning,
		StartTime: time.Now(),
	}
	e.saveFlowRun(ctx, run)
	e.publish(api.EventTypeFlowStarted, runID, run.Status, flowID)
	slog.Info("Flow run started",
		log.RunID(runID),
		log.FlowID(flowID),
		slog.String("run_key", key))

	res := r.Run(ctx, steps, vars)

	run.Finish(res, time.Now())
	e.saveFlowRun(ctx, run)
	e.publish(api.EventTypeFlowFinished, runID, res.Status, flowID)
	slog.Info("Flow run finished",
		log.RunID(runID),
		log.FlowID(flowID),
		log.Status(res.Status),
		slog.Int64("duration_ms", res.DurationMs))
	return res, nil
}

func (e *Engine) newRunner(
	flowID string, headless bool, hook func(string),
) *flow.Runner {
	deps := flow.Deps{
		Launcher: e.launcher,
		Pages:    e.store,
	}
	if e.comparator != nil {
		deps.Visual = e.comparator
	}
	opts := []flow.Option{
		flow.WithFlowID(flowID),
		flow.WithHeadless(headless),
	}
	if hook != nil {
		opts = append(opts, flow.WithLogHook(hook))
	}
	return flow.NewRunner(deps, opts...)
}

func (e *Engine) workflowRunner(flowID string) workflow.FlowRunner {
	return e.newRunner(flowID, e.config.Headless, nil)
}

func (e *Engine) suiteConcurrency(requested int) int {
	limit := requested
	if limit <= 0 {
		limit = e.config.SuiteConcurrency
	}
	if limit <= 0 {
		limit = 1
	}
	return min(limit, max(e.config.MaxSuiteConcurrency, 1))
}

func (e *Engine) saveFlowRun(ctx context.Context, run *api.FlowRun) {
	ctx = context.WithoutCancel(ctx)
	if err := e.store.SaveFlowRun(ctx, run); err != nil {
		slog.Error("Failed to save flow run",
			log.RunID(run.ID),
			log.Error(err))
	}
}
