package dag

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vk/levelflow/internal/config"
	"github.com/zclconf/go-cty/cty"
)

// Graph is the expanded execution plan of one workflow.
type Graph struct {
	Workflow *config.Workflow
	// Nodes provides a fast, ID-based lookup for any node in the graph.
	Nodes map[string]*Node
	// order lists node IDs in creation order, which follows the step
	// topological order and iterable declaration order.
	order []string
}

// Ordered returns the nodes in creation order.
func (g *Graph) Ordered() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.Nodes[id])
	}
	return out
}

// Binding is the value one iterable field takes in a node instance.
type Binding struct {
	Field string
	Value cty.Value
}

// Parameterization is the contribution of one iterable step to an instance:
// one value for each of the step's iterable fields, in declaration order.
type Parameterization struct {
	// Source is the key of the step declaring the iterables.
	Source   string
	Bindings []Binding
}

// Label renders the parameterization the way result directories name it,
// e.g. "_contrasts_1_hemi_lh".
func (p Parameterization) Label() string {
	var sb strings.Builder
	for _, b := range p.Bindings {
		sb.WriteString("_")
		sb.WriteString(b.Field)
		sb.WriteString("_")
		sb.WriteString(valueLabel(b.Value))
	}
	return sb.String()
}

// Node is a single vertex in the execution graph: one step specialised for
// one parameter combination.
type Node struct {
	// ID is the unique, machine-readable identifier for the node.
	// Example: "step.fs_mris_preproc.concat[_contrasts_1_hemi_lh]"
	ID string
	// Name is the human-readable instance name from the configuration.
	Name       string
	StepConfig *config.Step
	// Params holds one entry per upstream iterable source, ordered by the
	// source's position in the workflow.
	Params []Parameterization

	Deps       map[string]*Node
	Dependents map[string]*Node

	// Error stores any error that occurred during the node's execution.
	Error error
	// Output stores the result of the node's execution for use by downstream nodes.
	Output cty.Value
	// Cached is set when the output was reused from a previous run.
	Cached bool

	// --- Internal state management ---

	// depCount is an atomic counter for unmet dependencies, used by the scheduler.
	depCount atomic.Int32
	// state is the node's current execution state, managed atomically.
	state atomic.Int32
	// skipOnce ensures a node is marked as skipped and processed exactly once.
	skipOnce sync.Once
}

// State represents the execution state of a node in the graph.
type State int32

const (
	// Pending indicates the node is waiting for its dependencies to complete.
	Pending State = iota
	// Running indicates the node is currently being executed by a worker.
	Running
	// Done indicates the node has completed execution successfully.
	Done
	// Failed indicates the node has failed execution or was skipped.
	Failed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State returns the node's current execution state.
func (n *Node) State() State { return State(n.state.Load()) }

// SetState atomically updates the node's execution state.
func (n *Node) SetState(s State) { n.state.Store(int32(s)) }

// SetInitialCounters sets the dependency counter from the node's deps.
func (n *Node) SetInitialCounters() {
	n.depCount.Store(int32(len(n.Deps)))
}

// ResolveDependency decrements the unmet dependency counter and reports
// whether the node became ready.
func (n *Node) ResolveDependency() bool {
	return n.depCount.Add(-1) == 0
}

// PendingDeps returns the number of unmet dependencies.
func (n *Node) PendingDeps() int32 {
	return n.depCount.Load()
}

// Skip runs fn at most once for the node. It returns true if fn ran.
func (n *Node) Skip(fn func()) bool {
	ran := false
	n.skipOnce.Do(func() {
		ran = true
		fn()
	})
	return ran
}

// StepKey returns "runner_type.instance_name".
func (n *Node) StepKey() string {
	return n.StepConfig.Key()
}

// Suffix returns the joined parameterization labels, or "" for nodes
// outside any iterable subgraph.
func (n *Node) Suffix() string {
	labels := n.ParamDirs()
	return strings.Join(labels, "/")
}

// ParamDirs returns one path element per parameterization.
func (n *Node) ParamDirs() []string {
	out := make([]string, 0, len(n.Params))
	for _, p := range n.Params {
		out = append(out, p.Label())
	}
	return out
}

// IterableArgs returns the iterable bindings declared by the node's own step.
func (n *Node) IterableArgs() map[string]cty.Value {
	key := n.StepKey()
	for _, p := range n.Params {
		if p.Source != key {
			continue
		}
		out := make(map[string]cty.Value, len(p.Bindings))
		for _, b := range p.Bindings {
			out[b.Field] = b.Value
		}
		return out
	}
	return nil
}

// SortedDeps returns the node's dependencies ordered by ID.
func (n *Node) SortedDeps() []*Node {
	return sortedNodes(n.Deps)
}

// SortedDependents returns the node's dependents ordered by ID.
func (n *Node) SortedDependents() []*Node {
	return sortedNodes(n.Dependents)
}

func sortedNodes(m map[string]*Node) []*Node {
	out := make([]*Node, 0, len(m))
	for _, n := range m {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
