// Package workflow runs a small directed graph of LLM steps over shared state.
// Each node receives the state produced by its predecessor and returns the next
// state; edges are single and the graph must be acyclic.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"costtrace/internal/core"
)

// State is threaded through every node of a run.
type State struct {
	Messages    []core.Message
	Step        string
	Analysis    string
	FinalAnswer string
	// Calls counts model invocations made during the run.
	Calls int
}

// Node is one step in the graph.
type Node func(ctx context.Context, state State) (State, error)

// Errors returned by Compile.
var (
	ErrNoEntry       = errors.New("workflow: entry point not set")
	ErrNoFinish      = errors.New("workflow: finish point not set")
	ErrUnknownNode   = errors.New("workflow: unknown node")
	ErrDuplicateNode = errors.New("workflow: duplicate node")
	ErrCycle         = errors.New("workflow: cycle detected")
	ErrUnreachable   = errors.New("workflow: finish point unreachable")
)

// Graph is a mutable graph definition. Compile it before running.
type Graph struct {
	nodes  map[string]Node
	order  []string
	edges  map[string]string
	entry  string
	finish string
	err    error
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
		edges: make(map[string]string),
	}
}

// AddNode registers a named node.
func (g *Graph) AddNode(name string, n Node) *Graph {
	if _, ok := g.nodes[name]; ok {
		g.err = errors.Join(g.err, fmt.Errorf("%w: %s", ErrDuplicateNode, name))
		return g
	}
	g.nodes[name] = n
	g.order = append(g.order, name)
	return g
}

// AddEdge routes from one node to the next. A later edge from the same node
// replaces the earlier one.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = to
	return g
}

// SetEntryPoint names the first node.
func (g *Graph) SetEntryPoint(name string) *Graph {
	g.entry = name
	return g
}

// SetFinishPoint names the last node.
func (g *Graph) SetFinishPoint(name string) *Graph {
	g.finish = name
	return g
}

// Compiled is a validated, immutable graph.
type Compiled struct {
	path []string
	fns  map[string]Node
}

// Compile validates the graph and resolves the execution path.
func (g *Graph) Compile() (*Compiled, error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.entry == "" {
		return nil, ErrNoEntry
	}
	if g.finish == "" {
		return nil, ErrNoFinish
	}
	for _, name := range []string{g.entry, g.finish} {
		if _, ok := g.nodes[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, name)
		}
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, from)
		}
		if _, ok := g.nodes[to]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, to)
		}
	}

	visited := make(map[string]bool, len(g.nodes))
	path := make([]string, 0, len(g.nodes))
	for cur := g.entry; ; {
		if visited[cur] {
			return nil, fmt.Errorf("%w at %s", ErrCycle, cur)
		}
		visited[cur] = true
		path = append(path, cur)
		if cur == g.finish {
			break
		}
		next, ok := g.edges[cur]
		if !ok {
			return nil, fmt.Errorf("%w: path stops at %s", ErrUnreachable, cur)
		}
		cur = next
	}

	fns := make(map[string]Node, len(path))
	for _, name := range path {
		fns[name] = g.nodes[name]
	}
	return &Compiled{path: path, fns: fns}, nil
}

// Path returns the node names in execution order.
func (c *Compiled) Path() []string {
	return append([]string(nil), c.path...)
}

// Run executes the graph from the entry point to the finish point. A node error
// stops the run and is returned wrapped with the node name, together with the
// state reached so far.
func (c *Compiled) Run(ctx context.Context, initial State) (State, error) {
	state := initial
	for _, name := range c.path {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		next, err := c.fns[name](ctx, state)
		if err != nil {
			return state, fmt.Errorf("node %s: %w", name, err)
		}
		state = next
	}
	return state, nil
}
