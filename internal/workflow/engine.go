package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kode4food/marionette/internal/client"
	"github.com/kode4food/marionette/internal/events"
	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/log"
)

type (
	// FlowRunner executes one flow for a test node and can be aborted while
	// it runs
	FlowRunner interface {
		Run(ctx context.Context, steps []*api.Step, vars api.Vars) *api.FlowResult
		Abort(ctx context.Context) error
	}

	// RunnerFactory creates a fresh FlowRunner for each test node visit
	RunnerFactory func(flowID string) FlowRunner

	// Scripts evaluates condition expressions and user function bodies
	Scripts interface {
		Evaluate(expr string, env api.Vars) (bool, error)
		Call(code string, env api.Vars) (any, error)
	}

	// DataSource provides the named definitions that nodes refer to
	DataSource interface {
		GetFlow(ctx context.Context, id string) (*api.Flow, error)
		GetFunction(ctx context.Context, name string) (*api.Function, error)
		GetDataset(ctx context.Context, name string) (*api.Dataset, error)
	}

	// RunSink records run and node execution state
	RunSink interface {
		SaveWorkflowRun(ctx context.Context, run *api.WorkflowRun) error
		SaveNodeExecution(ctx context.Context, ex *api.NodeExecution) error
	}

	// Deps are the collaborators shared by every execution
	Deps struct {
		Runners RunnerFactory
		Scripts Scripts
		Data    DataSource
		Sink    RunSink
		Client  client.Client
		Events  events.Publisher
	}

	// Engine prepares workflow executions
	Engine struct {
		deps Deps
	}
)

var (
	ErrNodeFailed     = errors.New("node execution failed")
	ErrNoFlowRunner   = errors.New("flow runner not configured")
	ErrNoScripts      = errors.New("script environment not configured")
	ErrNoHTTPClient   = errors.New("HTTP client not configured")
	ErrExecutionUsed  = errors.New("execution already started")
	ErrUnknownNodeCfg = errors.New("unknown node configuration")
)

// New creates a workflow engine
func New(deps Deps) *Engine {
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	return &Engine{deps: deps}
}

// Prepare checks the workflow's graph and creates a pending run record for
// it. A malformed graph fails here, before any node is entered
func (e *Engine) Prepare(
	ctx context.Context, wf *api.Workflow, trigger api.TriggerType,
	inputs api.Vars,
) (*Execution, error) {
	graph, err := Compile(wf)
	if err != nil {
		slog.Warn("Workflow rejected", log.Error(err))
		return nil, err
	}
	if trigger == "" {
		trigger = api.TriggerManual
	}
	if inputs == nil {
		inputs = api.Vars{}
	}

	run := &api.WorkflowRun{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Status:     api.StatusPending,
		Trigger:    trigger,
		StartTime:  time.Now(),
		Context:    inputs,
	}
	if err := e.deps.Sink.SaveWorkflowRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run %s: %w", run.ID, err)
	}

	return &Execution{
		deps:    e.deps,
		graph:   graph,
		run:     run,
		inputs:  inputs,
		vars:    inputs.Merge(nil),
		abortCh: make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Run prepares and executes a workflow to completion
func (e *Engine) Run(
	ctx context.Context, wf *api.Workflow, trigger api.TriggerType,
	inputs api.Vars,
) (*api.WorkflowRun, error) {
	x, err := e.Prepare(ctx, wf, trigger, inputs)
	if err != nil {
		return nil, err
	}
	return x.Run(ctx), nil
}
