// This file contains the logic for translating HCL schema structs into the
// format-agnostic configuration model defined in the config package.

package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/levelflow/internal/config"
	"github.com/vk/levelflow/internal/schema"
)

// translateInputDefinition processes a single HCL input block, handling its
// default value and type parsing.
func translateInputDefinition(ctx context.Context, in *schema.InputDefinition, runnerType string) (*config.InputDefinition, error) {
	def := &config.InputDefinition{
		Name:        in.Name,
		Description: in.Description,
	}

	if in.Default != nil && !in.Default.IsNull() {
		val := *in.Default
		def.Default = &val
		def.Optional = true
	}
	if in.Optional != nil && *in.Optional {
		def.Optional = true
	}

	parsedType, err := typeExprToCtyType(ctx, runnerType, "input", in.Name, in.Type)
	if err != nil {
		return nil, err
	}
	def.Type = parsedType
	return def, nil
}

// translateRunnerDefinition converts the HCL-specific runner schema into the agnostic model.
func translateRunnerDefinition(ctx context.Context, s *schema.RunnerDefinition) (*config.RunnerDefinition, error) {
	r := &config.RunnerDefinition{
		Type:        s.Type,
		Description: s.Description,
		Inputs:      make(map[string]*config.InputDefinition),
		Outputs:     make(map[string]*config.OutputDefinition),
	}
	if s.Dynamic != nil {
		r.DynamicOutputs = *s.Dynamic
	}
	if s.AlwaysRun != nil {
		r.AlwaysRun = *s.AlwaysRun
	}
	if s.Lifecycle != nil {
		r.Lifecycle = &config.Lifecycle{OnRun: s.Lifecycle.OnRun}
	}

	for _, in := range s.Inputs {
		if _, exists := r.Inputs[in.Name]; exists {
			return nil, fmt.Errorf("in runner '%s': input '%s' declared twice", s.Type, in.Name)
		}
		translated, err := translateInputDefinition(ctx, in, s.Type)
		if err != nil {
			return nil, err
		}
		r.Inputs[in.Name] = translated
	}

	for _, out := range s.Outputs {
		parsedType, err := typeExprToCtyType(ctx, s.Type, "output", out.Name, out.Type)
		if err != nil {
			return nil, err
		}
		r.Outputs[out.Name] = &config.OutputDefinition{
			Name:        out.Name,
			Type:        parsedType,
			Description: out.Description,
		}
	}
	return r, nil
}

// translateWorkflow converts a decoded workflow body into the agnostic model.
func translateWorkflow(name string, body *schema.WorkflowBody) (*config.Workflow, error) {
	wf := &config.Workflow{
		Name:        name,
		BaseDir:     body.BaseDir,
		Environment: body.Environment,
	}
	if body.NProcs != nil {
		if *body.NProcs < 1 {
			return nil, fmt.Errorf("workflow %q: n_procs must be at least 1, got %d", name, *body.NProcs)
		}
		wf.NProcs = *body.NProcs
	}

	seen := make(map[string]struct{}, len(body.Steps))
	for _, s := range body.Steps {
		step, err := translateStep(s)
		if err != nil {
			return nil, fmt.Errorf("workflow %q: %w", name, err)
		}
		if _, exists := seen[step.Key()]; exists {
			return nil, fmt.Errorf("workflow %q: step %q is defined more than once", name, step.Key())
		}
		seen[step.Key()] = struct{}{}
		wf.Steps = append(wf.Steps, step)
	}
	return wf, nil
}

// translateStep converts the HCL-specific step schema into the agnostic model.
func translateStep(s *schema.Step) (*config.Step, error) {
	step := &config.Step{
		RunnerType: s.RunnerType,
		Name:       s.Name,
		Arguments:  map[string]hcl.Expression{},
		DependsOn:  s.DependsOn,
	}
	if s.Arguments != nil {
		args, err := bodyAttributes(s.Arguments.Body)
		if err != nil {
			return nil, fmt.Errorf("step %q arguments: %w", step.Key(), err)
		}
		step.Arguments = args
	}

	fields := make(map[string]struct{}, len(s.Iterables))
	for _, it := range s.Iterables {
		if _, exists := fields[it.Field]; exists {
			return nil, fmt.Errorf("step %q: iterable %q declared twice", step.Key(), it.Field)
		}
		if _, clash := step.Arguments[it.Field]; clash {
			return nil, fmt.Errorf("step %q: %q is both an argument and an iterable", step.Key(), it.Field)
		}
		fields[it.Field] = struct{}{}
		step.Iterables = append(step.Iterables, &config.Iterable{Field: it.Field, Values: it.Values})
	}
	return step, nil
}
