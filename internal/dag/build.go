package dag

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/levelflow/internal/config"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/registry"
)

// Build constructs a complete, validated and expanded dependency graph for
// one workflow. evalCtx is used to evaluate iterable values and must expose
// everything those expressions reference (locals and functions).
func Build(ctx context.Context, wf *config.Workflow, r *registry.Registry, evalCtx *hcl.EvalContext) (*Graph, error) {
	logger := ctxlog.FromContext(ctx).With("workflow", wf.Name)
	logger.Debug("Build: Starting graph construction.")

	// First pass: resolve step level dependencies.
	deps, err := linkSteps(ctx, wf, r)
	if err != nil {
		return nil, err
	}
	logger.Debug("Build: Step linking complete.", "step_count", len(wf.Steps))

	keys := make([]string, 0, len(wf.Steps))
	steps := make(map[string]*config.Step, len(wf.Steps))
	for _, s := range wf.Steps {
		keys = append(keys, s.Key())
		steps[s.Key()] = s
	}
	if err := detectCycles(keys, deps); err != nil {
		return nil, fmt.Errorf("error validating dependency graph: %w", err)
	}
	logger.Debug("Build: Cycle detection passed.")

	// Second pass: expand iterables into node instances and link them.
	graph := &Graph{Workflow: wf, Nodes: make(map[string]*Node)}
	x := &expander{
		graph:   graph,
		steps:   steps,
		deps:    deps,
		evalCtx: evalCtx,
	}
	if err := x.expand(ctx, topoOrder(keys, deps)); err != nil {
		return nil, err
	}
	logger.Debug("Build: Node expansion complete.", "node_count", len(graph.Nodes))

	// Third pass: initialize counters.
	for _, node := range graph.Nodes {
		node.SetInitialCounters()
	}
	logger.Debug("Build: Graph construction successful.")
	return graph, nil
}

// topoOrder returns the step keys so that each step follows its
// dependencies. Among ready steps the workflow declaration order wins.
func topoOrder(keys []string, deps map[string][]string) []string {
	done := make(map[string]bool, len(keys))
	order := make([]string, 0, len(keys))
	for len(order) < len(keys) {
		for _, key := range keys {
			if done[key] {
				continue
			}
			ready := true
			for _, dep := range deps[key] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[key] = true
				order = append(order, key)
				break
			}
		}
	}
	return order
}
