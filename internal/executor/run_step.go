package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/levelflow/internal/config"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/dag"
	"github.com/vk/levelflow/internal/nodectx"
	"github.com/vk/levelflow/internal/tracing"
	"github.com/zclconf/go-cty/cty"
)

// nodeDir returns the working directory of a node instance:
// <base_dir>/<workflow>/<param dirs...>/<instance name>.
func (e *Executor) nodeDir(node *dag.Node) string {
	elems := append([]string{e.workflowDir()}, node.ParamDirs()...)
	return filepath.Join(append(elems, node.Name)...)
}

// nodeArgs returns the step arguments with the node's iterable values bound
// as static expressions.
func nodeArgs(node *dag.Node) map[string]hcl.Expression {
	args := make(map[string]hcl.Expression, len(node.StepConfig.Arguments))
	for name, expr := range node.StepConfig.Arguments {
		args[name] = expr
	}
	for field, val := range node.IterableArgs() {
		args[field] = hcl.StaticExpr(val, hcl.Range{Filename: node.ID})
	}
	return args
}

// runStepNode handles the execution of a single step node.
func (e *Executor) runStepNode(ctx context.Context, node *dag.Node) (err error) {
	ctx, logger := ctxlog.With(ctx, "node_id", node.ID)
	ctx, span := tracing.StartSpan(ctx, "node "+node.ID, map[string]string{
		"node_id": node.ID,
		"runner":  node.StepConfig.RunnerType,
	})
	defer func() { tracing.EndSpan(span, err) }()

	runnerDef, handler, err := e.registry.Handler(node.StepConfig.RunnerType)
	if err != nil {
		return err
	}

	workDir := e.nodeDir(node)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory for %s: %w", node.ID, err)
	}

	evalCtx := e.buildEvalContext(ctx, node)
	args := nodeArgs(node)

	hash, err := inputHash(runnerDef, args, evalCtx)
	if err != nil {
		return fmt.Errorf("failed to evaluate arguments for %s: %w", node.ID, err)
	}
	span.SetAttribute("input_hash", hash)

	if !e.opts.Rerun && !runnerDef.AlwaysRun {
		cached, ok, err := loadResult(workDir, hash)
		if err != nil {
			return fmt.Errorf("failed to read cached result for %s: %w", node.ID, err)
		}
		if ok {
			logger.Info("♻️ Reusing cached result", "dir", workDir)
			node.Output = cached
			node.Cached = true
			span.SetAttribute("cached", "true")
			return nil
		}
	}

	logger.Info("▶️ Starting step", "dir", workDir)
	output, err := e.executeStepLogic(ctx, node, runnerDef, handler.Fn, handler.NewInput, args, evalCtx, workDir)
	if err != nil {
		return err
	}

	if err := storeResult(workDir, hash, output); err != nil {
		return fmt.Errorf("failed to store result for %s: %w", node.ID, err)
	}
	node.Output = output
	logger.Info("✅ Finished step")
	return nil
}

// executeStepLogic decodes the arguments, calls the handler and converts its
// output.
func (e *Executor) executeStepLogic(
	ctx context.Context,
	node *dag.Node,
	runnerDef *config.RunnerDefinition,
	fn any,
	newInput func() any,
	args map[string]hcl.Expression,
	evalCtx *hcl.EvalContext,
	workDir string,
) (cty.Value, error) {
	logger := ctxlog.FromContext(ctx)

	var inputStruct any
	if newInput != nil {
		inputStruct = newInput()
	}
	if inputStruct != nil {
		if err := e.converter.DecodeBody(ctx, inputStruct, args, runnerDef.Inputs, evalCtx); err != nil {
			return cty.NilVal, fmt.Errorf("failed to decode arguments for step %s: %w", node.ID, err)
		}
	}
	logger.Debug("Step input:", "data", formatValueForLogs(inputStruct))

	info := &nodectx.Info{
		RunID:     e.opts.RunID,
		Workflow:  e.Graph.Workflow.Name,
		NodeID:    node.ID,
		WorkDir:   workDir,
		ParamDirs: node.ParamDirs(),
		Env:       e.Graph.Workflow.Environment,
	}
	handlerCtx := nodectx.WithInfo(ctx, info)

	logger.Debug("Calling step run handler.", "handler", runnerDef.Lifecycle.OnRun)
	handlerFunc := reflect.ValueOf(fn)
	callArgs := []reflect.Value{reflect.ValueOf(handlerCtx)}
	if inputStruct == nil {
		callArgs = append(callArgs, reflect.Zero(handlerFunc.Type().In(1)))
	} else {
		callArgs = append(callArgs, reflect.ValueOf(inputStruct))
	}

	results := handlerFunc.Call(callArgs)
	if errResult := results[1].Interface(); errResult != nil {
		return cty.NilVal, fmt.Errorf("step %s failed: %w", node.ID, errResult.(error))
	}

	native := results[0]
	if native.Kind() == reflect.Ptr {
		if native.IsNil() {
			return cty.EmptyObjectVal, nil
		}
		native = native.Elem()
	}
	output, err := e.converter.ToCtyValue(native.Interface())
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to convert handler output to cty.Value for step %s: %w", node.ID, err)
	}
	if output.IsNull() {
		output = cty.EmptyObjectVal
	}
	if err := checkOutputs(runnerDef, output); err != nil {
		return cty.NilVal, fmt.Errorf("step %s: %w", node.ID, err)
	}
	return output, nil
}

// checkOutputs verifies a handler produced every declared output.
func checkOutputs(def *config.RunnerDefinition, output cty.Value) error {
	if def.DynamicOutputs || len(def.Outputs) == 0 {
		return nil
	}
	if !output.Type().IsObjectType() {
		return fmt.Errorf("handler returned %s, expected an object", output.Type().FriendlyName())
	}
	var missing []string
	for name := range def.Outputs {
		if !output.Type().HasAttribute(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("handler did not produce declared outputs %v", missing)
	}
	return nil
}
