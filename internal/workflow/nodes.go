package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kode4food/marionette/pkg/api"
)

const (
	VarVariables    = "variables"
	VarLastOutput   = "lastOutput"
	VarGlobalInputs = "globalInputs"

	logTimestampFormat = time.RFC3339Nano
)

// dispatch runs the handler for the node's kind
func (x *Execution) dispatch(ctx context.Context, node *api.Node) *outcome {
	out := &outcome{}
	logf := func(format string, args ...any) {
		ts := time.Now().UTC().Format(logTimestampFormat)
		out.logs = append(out.logs,
			fmt.Sprintf("[%s] %s", ts, fmt.Sprintf(format, args...)))
	}

	switch cfg := node.Config.(type) {
	case *api.StartConfig:
		out.edges = x.graph.Outgoing(node.ID)
	case *api.EndConfig:
		logf("Branch ended")
	case *api.TestConfig:
		x.runTest(ctx, node, cfg, out)
	case *api.ConditionConfig:
		x.evalCondition(node, cfg, out, logf)
	case *api.LoopConfig:
		x.startLoop(ctx, node, cfg, out, logf)
	case *api.DelayConfig:
		logf("Waiting %dms", cfg.Duration)
		if err := x.sleep(ctx, time.Duration(cfg.Duration)*time.Millisecond); err != nil {
			out.aborted = true
			return out
		}
		out.edges = x.graph.Outgoing(node.ID)
	case *api.FunctionConfig:
		x.callFunction(ctx, node, cfg, out, logf)
	case *api.WebhookConfig:
		x.callWebhook(ctx, node, cfg, out, logf)
	default:
		out.err = fmt.Errorf("%w: %T", ErrUnknownNodeCfg, cfg)
	}
	return out
}

func (x *Execution) runTest(
	ctx context.Context, node *api.Node, cfg *api.TestConfig, out *outcome,
) {
	if x.deps.Runners == nil {
		out.err = ErrNoFlowRunner
		return
	}
	steps := cfg.Steps
	flowID := cfg.FlowID
	if len(steps) == 0 {
		fl, err := x.deps.Data.GetFlow(ctx, flowID)
		if err != nil {
			out.err = err
			return
		}
		steps = fl.Steps
	}
	if flowID == "" {
		flowID = node.ID
	}

	runner := x.deps.Runners(flowID)
	x.setCurrent(ctx, runner)
	res := runner.Run(ctx, steps, x.vars)
	x.setCurrent(ctx, nil)

	out.logs = res.Logs
	out.artifacts = res.Artifacts
	output := map[string]any{
		"success":     res.Success,
		"status":      string(res.Status),
		"duration_ms": res.DurationMs,
	}
	out.result = output
	if res.Status == api.StatusAborted {
		out.aborted = true
		return
	}
	x.vars[node.ID] = output
	x.lastOutput = output
	if !res.Success {
		out.err = fmt.Errorf("%w: flow %s failed", ErrNodeFailed, flowID)
		return
	}
	out.edges = x.graph.Outgoing(node.ID)
}

func (x *Execution) evalCondition(
	node *api.Node, cfg *api.ConditionConfig, out *outcome,
	logf func(string, ...any),
) {
	if x.deps.Scripts == nil {
		out.err = ErrNoScripts
		return
	}
	ok, err := x.deps.Scripts.Evaluate(cfg.Condition, x.scriptEnv())
	if err != nil {
		out.err = fmt.Errorf("%w: condition %q: %w",
			ErrNodeFailed, cfg.Condition, err)
		return
	}
	branch := api.HandleFalse
	if ok {
		branch = api.HandleTrue
	}
	logf("Condition %q evaluated to %t", cfg.Condition, ok)
	out.result = map[string]any{"result": ok, "branch": string(branch)}
	for _, e := range x.graph.Outgoing(node.ID) {
		if e.Handle == branch {
			out.edges = append(out.edges, e)
		}
	}
}

func (x *Execution) startLoop(
	ctx context.Context, node *api.Node, cfg *api.LoopConfig, out *outcome,
	logf func(string, ...any),
) {
	items, err := LoopItems(ctx, x.deps.Data, cfg, x.vars)
	if err != nil {
		out.err = fmt.Errorf("%w: %w", ErrNodeFailed, err)
		return
	}
	body, done := x.graph.LoopEdges(node.ID)
	prev, hadPrev := x.vars[cfg.Item()]
	logf("Iterating %d items from %s %q", len(items), cfg.Kind(), cfg.Source)

	out.result = map[string]any{"count": len(items)}
	out.edges = done
	out.loop = &loopState{
		node:    node,
		cfg:     cfg,
		items:   items,
		body:    body,
		prev:    prev,
		hadPrev: hadPrev,
	}
}

func (x *Execution) callFunction(
	ctx context.Context, node *api.Node, cfg *api.FunctionConfig, out *outcome,
	logf func(string, ...any),
) {
	if x.deps.Scripts == nil {
		out.err = ErrNoScripts
		return
	}
	fn, err := x.deps.Data.GetFunction(ctx, cfg.FunctionName)
	if err != nil {
		out.err = err
		return
	}
	res, err := x.deps.Scripts.Call(fn.Code, x.scriptEnv())
	if err != nil {
		out.err = fmt.Errorf("%w: function %s: %w",
			ErrNodeFailed, cfg.FunctionName, err)
		return
	}
	logf("Function %s stored result under %q", fn.Name, cfg.Key())
	x.vars[cfg.Key()] = res
	x.lastOutput = res
	out.result = res
	out.edges = x.graph.Outgoing(node.ID)
}

// callWebhook never halts the run: delivery failures are recorded on the
// node and traversal continues
func (x *Execution) callWebhook(
	ctx context.Context, node *api.Node, cfg *api.WebhookConfig, out *outcome,
	logf func(string, ...any),
) {
	out.isolated = true
	out.edges = x.graph.Outgoing(node.ID)
	if x.deps.Client == nil {
		out.err = ErrNoHTTPClient
		return
	}
	res, err := x.sendWebhook(ctx, node, cfg, x.vars, logf)
	if errors.Is(err, errAborted) {
		out.aborted = true
		return
	}
	output := map[string]any{"status": res.Status, "body": res.Body}
	x.lastOutput = output
	out.result = res
	out.err = err
}

func (x *Execution) scriptEnv() api.Vars {
	return x.vars.Merge(api.Vars{
		VarVariables:    x.vars,
		VarLastOutput:   x.lastOutput,
		VarGlobalInputs: x.inputs,
	})
}
