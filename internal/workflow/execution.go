package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/log"
	"github.com/kode4food/marionette/pkg/util"
)

type (
	// Execution is one run of one workflow. It is single-use and owns its
	// variable context exclusively
	Execution struct {
		deps       Deps
		graph      *Graph
		run        *api.WorkflowRun
		inputs     api.Vars
		vars       api.Vars
		lastOutput any
		current    FlowRunner
		abortCh    chan struct{}
		done       chan struct{}
		started    bool
		aborted    bool
		mu         sync.Mutex
	}

	// scope tracks the nodes entered during one pass: the whole run at the
	// root, or a single loop iteration
	scope struct {
		parent    *scope
		visited   util.Set[string]
		loop      string
		iteration int
	}

	// frame is one entry of the traversal work stack. A frame either enters
	// a node or advances a loop to its next element
	frame struct {
		scope *scope
		node  string
		loop  *loopState
	}

	loopState struct {
		prev    any
		node    *api.Node
		cfg     *api.LoopConfig
		items   []any
		body    []*api.Edge
		index   int
		hadPrev bool
	}

	// outcome is what a node handler reports back to the traversal
	outcome struct {
		result    any
		edges     []*api.Edge
		loop      *loopState
		logs      []string
		artifacts []string
		err       error
		aborted   bool
		isolated  bool
	}
)

var errAborted = errors.New("workflow aborted")

// RunID returns the ID of the run record
func (x *Execution) RunID() string {
	return x.run.ID
}

// Done is closed once the run has reached a terminal status
func (x *Execution) Done() <-chan struct{} {
	return x.done
}

// Run traverses the graph from its start node and returns the finished run
// record. Failures are reported through the record's status, never as a
// panic or error
func (x *Execution) Run(ctx context.Context) *api.WorkflowRun {
	x.mu.Lock()
	if x.started {
		x.mu.Unlock()
		slog.Warn("Workflow execution reused", log.RunID(x.run.ID))
		return x.run
	}
	x.started = true
	x.mu.Unlock()
	defer close(x.done)

	x.run.Status = api.StatusRunning
	x.saveRun(ctx)
	x.publish(api.EventTypeWorkflowStarted, "", string(x.run.Status), "")
	slog.Info("Workflow started",
		log.RunID(x.run.ID),
		log.WorkflowID(x.run.WorkflowID),
		slog.String("trigger", string(x.run.Trigger)))

	status, err := x.execute(ctx)

	x.run.Context = x.vars
	if err != nil {
		x.run.Error = err.Error()
	}
	x.run.Finish(status, time.Now())
	x.saveRun(ctx)
	x.publish(api.EventTypeWorkflowFinished, "", string(status), x.run.Error)
	slog.Info("Workflow finished",
		log.RunID(x.run.ID),
		log.WorkflowID(x.run.WorkflowID),
		log.Status(status),
		slog.Int64("duration_ms", x.run.DurationMs))
	return x.run
}

// Abort requests cooperative cancellation. The node in flight is allowed
// to finish, a running flow is asked to stop, and no further node is
// entered. Abort waits for the run to finish unless ctx ends first
func (x *Execution) Abort(ctx context.Context) error {
	x.mu.Lock()
	if !x.aborted {
		x.aborted = true
		close(x.abortCh)
	}
	current := x.current
	started := x.started
	x.mu.Unlock()

	if current != nil {
		if err := current.Abort(ctx); err != nil {
			return err
		}
	}
	if !started {
		return nil
	}
	select {
	case <-x.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (x *Execution) execute(ctx context.Context) (status api.RunStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Workflow execution panicked",
				log.RunID(x.run.ID),
				slog.Any("panic", r))
			status = api.StatusFailed
			err = fmt.Errorf("%w: panic: %v", ErrNodeFailed, r)
		}
	}()

	root := &scope{visited: util.Set[string]{}}
	stack := []*frame{{scope: root, node: x.graph.Start.ID}}

	for len(stack) > 0 {
		if x.stopRequested(ctx) {
			return api.StatusAborted, nil
		}

		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if top.loop != nil {
			stack = x.advanceLoop(stack, top)
			continue
		}

		if !top.scope.visited.Add(top.node) {
			continue
		}

		node, _ := x.graph.Node(top.node)
		out := x.visit(ctx, node, top.scope)
		switch {
		case out.aborted:
			return api.StatusAborted, nil
		case out.err != nil && !out.isolated:
			return api.StatusFailed, fmt.Errorf("node %s: %w", node.ID, out.err)
		}

		if out.loop != nil {
			stack = x.pushEdges(stack, top.scope, out.edges)
			stack = append(stack, &frame{scope: top.scope, loop: out.loop})
			continue
		}
		stack = x.pushEdges(stack, top.scope, out.edges)
	}
	return api.StatusCompleted, nil
}

// pushEdges schedules edge targets so that the first edge is entered
// first. Loop back-edges end the current iteration and are not followed
func (x *Execution) pushEdges(
	stack []*frame, sc *scope, edges []*api.Edge,
) []*frame {
	for _, e := range slices.Backward(edges) {
		if x.graph.IsBackEdge(e) {
			continue
		}
		stack = append(stack, &frame{scope: sc, node: e.Target})
	}
	return stack
}

// advanceLoop binds the next element and schedules one pass over the body
// in a fresh scope, above the frame for the element after it. Once the
// elements are exhausted the item variable is restored
func (x *Execution) advanceLoop(stack []*frame, f *frame) []*frame {
	ls := f.loop
	name := ls.cfg.Item()
	if ls.index >= len(ls.items) {
		if ls.hadPrev {
			x.vars[name] = ls.prev
		} else {
			delete(x.vars, name)
		}
		return stack
	}

	x.vars[name] = ls.items[ls.index]
	next := *ls
	next.index++
	stack = append(stack, &frame{scope: f.scope, loop: &next})

	iter := &scope{
		parent:    f.scope,
		visited:   util.Set[string]{},
		loop:      ls.node.ID,
		iteration: ls.index + 1,
	}
	return x.pushEdges(stack, iter, ls.body)
}

func (x *Execution) visit(
	ctx context.Context, node *api.Node, sc *scope,
) *outcome {
	ex := &api.NodeExecution{
		ID:        uuid.NewString(),
		RunID:     x.run.ID,
		NodeID:    node.ID,
		Status:    api.NodeRunning,
		StartTime: time.Now(),
		Iteration: sc.iteration,
	}
	x.saveExecution(ctx, ex)
	x.publish(api.EventTypeNodeStarted, node.ID, string(ex.Status), "")

	out := x.dispatch(ctx, node)

	ex.Result = out.result
	ex.Logs = out.logs
	ex.Artifacts = out.artifacts
	status := api.NodePassed
	switch {
	case out.aborted:
		status = api.NodeSkipped
		ex.Error = errAborted.Error()
	case out.err != nil:
		status = api.NodeFailed
		ex.Error = out.err.Error()
	}
	ex.Finish(status, time.Now())
	x.saveExecution(ctx, ex)
	x.publish(api.EventTypeNodeFinished, node.ID, string(status), ex.Error)

	slog.Debug("Node finished",
		log.RunID(x.run.ID),
		log.NodeID(node.ID),
		log.Status(status),
		slog.Int("iteration", sc.iteration))
	return out
}

func (x *Execution) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.aborted
}

// sleep pauses for d, returning errAborted if the run is aborted first
func (x *Execution) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-x.abortCh:
		return errAborted
	case <-ctx.Done():
		return errAborted
	}
}

// setCurrent tracks the flow runner in flight so Abort can reach it. A
// runner installed after an abort is aborted before it starts
func (x *Execution) setCurrent(ctx context.Context, r FlowRunner) {
	x.mu.Lock()
	x.current = r
	aborted := x.aborted
	x.mu.Unlock()
	if r != nil && aborted {
		_ = r.Abort(ctx)
	}
}

func (x *Execution) saveRun(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := x.deps.Sink.SaveWorkflowRun(ctx, x.run); err != nil {
		slog.Error("Failed to save workflow run",
			log.RunID(x.run.ID),
			log.Error(err))
	}
}

func (x *Execution) saveExecution(ctx context.Context, ex *api.NodeExecution) {
	ctx = context.WithoutCancel(ctx)
	if err := x.deps.Sink.SaveNodeExecution(ctx, ex); err != nil {
		slog.Error("Failed to save node execution",
			log.RunID(x.run.ID),
			log.NodeID(ex.NodeID),
			log.Error(err))
	}
}

func (x *Execution) publish(
	typ api.EventType, nodeID, status, msg string,
) {
	x.deps.Events.Publish(&api.Event{
		Type:    typ,
		RunID:   x.run.ID,
		NodeID:  nodeID,
		Status:  status,
		Message: msg,
	})
}
