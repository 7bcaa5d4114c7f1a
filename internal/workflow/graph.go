package workflow

import (
	"errors"
	"fmt"

	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/util"
)

// Graph is a validated, indexed workflow definition
type Graph struct {
	Workflow *api.Workflow
	Start    *api.Node
	nodes    map[string]*api.Node
	out      map[string][]*api.Edge
	back     util.Set[*api.Edge]
}

var ErrGraphIntegrity = errors.New("workflow graph integrity error")

// Compile indexes a workflow and checks its structure. Every failure wraps
// ErrGraphIntegrity
func Compile(wf *api.Workflow) (*Graph, error) {
	if wf == nil {
		return nil, fmt.Errorf("%w: workflow missing", ErrGraphIntegrity)
	}
	g := &Graph{
		Workflow: wf,
		nodes:    make(map[string]*api.Node, len(wf.Nodes)),
		out:      map[string][]*api.Edge{},
		back:     util.Set[*api.Edge]{},
	}
	for _, check := range []func() error{
		g.indexNodes,
		g.indexEdges,
		g.checkConditions,
		g.checkReachable,
		g.checkCycles,
	} {
		if err := check(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGraphIntegrity, err)
		}
	}
	return g, nil
}

// Node returns the node with the given ID
func (g *Graph) Node(id string) (*api.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Outgoing returns the edges leaving a node, in definition order
func (g *Graph) Outgoing(id string) []*api.Edge {
	return g.out[id]
}

// IsBackEdge reports whether e returns from a loop body to its loop node
func (g *Graph) IsBackEdge(e *api.Edge) bool {
	return g.back.Contains(e)
}

// LoopEdges splits a loop node's outgoing edges into its body and the edges
// followed once the loop is exhausted. A loop without handle-tagged edges
// treats all of its edges as body
func (g *Graph) LoopEdges(id string) (body, done []*api.Edge) {
	edges := g.out[id]
	tagged := false
	for _, e := range edges {
		if e.Handle == api.HandleBody || e.Handle == api.HandleDone {
			tagged = true
			break
		}
	}
	for _, e := range edges {
		switch {
		case !tagged || e.Handle == api.HandleBody:
			body = append(body, e)
		case e.Handle == api.HandleDone:
			done = append(done, e)
		}
	}
	return body, done
}

func (g *Graph) indexNodes() error {
	for _, n := range g.Workflow.Nodes {
		if n == nil {
			return errors.New("empty node")
		}
		if err := n.Validate(); err != nil {
			return err
		}
		if _, ok := g.nodes[n.ID]; ok {
			return fmt.Errorf("duplicate node %s", n.ID)
		}
		g.nodes[n.ID] = n
		if n.Type != api.NodeStart {
			continue
		}
		if g.Start != nil {
			return fmt.Errorf("multiple start nodes: %s, %s", g.Start.ID, n.ID)
		}
		g.Start = n
	}
	if g.Start == nil {
		return errors.New("missing start node")
	}
	return nil
}

func (g *Graph) indexEdges() error {
	for _, e := range g.Workflow.Edges {
		if e == nil {
			return errors.New("empty edge")
		}
		src, ok := g.nodes[e.Source]
		if !ok {
			return fmt.Errorf("edge %s: unknown source %s", e.ID, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return fmt.Errorf("edge %s: unknown target %s", e.ID, e.Target)
		}
		if err := checkHandle(src, e); err != nil {
			return err
		}
		g.out[e.Source] = append(g.out[e.Source], e)
	}
	return nil
}

func checkHandle(src *api.Node, e *api.Edge) error {
	switch e.Handle {
	case api.HandleDefault:
		if src.Type == api.NodeCondition {
			return fmt.Errorf("condition %s: untagged edge %s", src.ID, e.ID)
		}
	case api.HandleTrue, api.HandleFalse:
		if src.Type != api.NodeCondition {
			return fmt.Errorf("edge %s: %q handle on %s node",
				e.ID, e.Handle, src.Type)
		}
	case api.HandleBody, api.HandleDone:
		if src.Type != api.NodeLoop {
			return fmt.Errorf("edge %s: %q handle on %s node",
				e.ID, e.Handle, src.Type)
		}
	default:
		return fmt.Errorf("edge %s: unknown handle %q", e.ID, e.Handle)
	}
	return nil
}

func (g *Graph) checkConditions() error {
	for _, n := range g.Workflow.Nodes {
		if n.Type != api.NodeCondition {
			continue
		}
		edges := g.out[n.ID]
		if len(edges) != 2 || edges[0].Handle == edges[1].Handle {
			return fmt.Errorf(
				"condition %s: needs exactly one true and one false edge",
				n.ID,
			)
		}
	}
	return nil
}

func (g *Graph) checkReachable() error {
	seen := util.SetOf(g.Start.ID)
	stack := []string{g.Start.ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.out[id] {
			if seen.Add(e.Target) {
				stack = append(stack, e.Target)
			}
		}
	}
	for _, n := range g.Workflow.Nodes {
		if !seen.Contains(n.ID) {
			return fmt.Errorf("node %s unreachable from start", n.ID)
		}
	}
	return nil
}

// checkCycles marks edges that lead from a loop body back to its loop
// node and rejects any other cycle
func (g *Graph) checkCycles() error {
	for _, n := range g.Workflow.Nodes {
		if n.Type != api.NodeLoop {
			continue
		}
		body, _ := g.LoopEdges(n.ID)
		inBody := g.reachFrom(body, n.ID)
		for id := range inBody {
			for _, e := range g.out[id] {
				if e.Target == n.ID {
					g.back.Add(e)
				}
			}
		}
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := map[string]int{}
	var visit func(id string) error
	visit = func(id string) error {
		state[id] = visiting
		for _, e := range g.out[id] {
			if g.back.Contains(e) {
				continue
			}
			switch state[e.Target] {
			case visiting:
				return fmt.Errorf("cycle through %s -> %s", id, e.Target)
			case unvisited:
				if err := visit(e.Target); err != nil {
					return err
				}
			}
		}
		state[id] = visited
		return nil
	}
	return visit(g.Start.ID)
}

// reachFrom collects the nodes reachable through edges without passing
// through the stop node
func (g *Graph) reachFrom(edges []*api.Edge, stop string) util.Set[string] {
	res := util.Set[string]{}
	stack := make([]string, 0, len(edges))
	for _, e := range edges {
		stack = append(stack, e.Target)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == stop || !res.Add(id) {
			continue
		}
		for _, e := range g.out[id] {
			stack = append(stack, e.Target)
		}
	}
	return res
}
