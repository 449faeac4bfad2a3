package executor

import (
	"context"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/dag"
	"github.com/zclconf/go-cty/cty"
)

// buildEvalContext creates the HCL evaluation context for a node. It is a
// child of the root context, so locals and functions stay visible, and adds
// `step.<runner>.<name>.output` for every completed dependency instance.
func (e *Executor) buildEvalContext(ctx context.Context, node *dag.Node) *hcl.EvalContext {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Building HCL evaluation context.", "node", node.ID)

	stepOutputsByRunner := make(map[string]map[string]cty.Value)
	for _, depNode := range node.SortedDeps() {
		if depNode.State() != dag.Done || depNode.Output.IsNull() {
			continue
		}
		runnerType := depNode.StepConfig.RunnerType
		if _, ok := stepOutputsByRunner[runnerType]; !ok {
			stepOutputsByRunner[runnerType] = make(map[string]cty.Value)
		}
		stepOutputsByRunner[runnerType][depNode.Name] = cty.ObjectVal(map[string]cty.Value{
			"output": depNode.Output,
		})
	}

	finalStepOutputs := make(map[string]cty.Value, len(stepOutputsByRunner))
	for runnerType, instancesMap := range stepOutputsByRunner {
		finalStepOutputs[runnerType] = cty.ObjectVal(instancesMap)
	}

	child := e.rootCtx.NewChild()
	child.Variables = map[string]cty.Value{
		"step": cty.ObjectVal(finalStepOutputs),
	}
	logger.Debug("Finished building HCL evaluation context.", "node", node.ID, "deps", len(finalStepOutputs))
	return child
}
