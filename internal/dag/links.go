package dag

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/levelflow/internal/config"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/registry"
)

// parseStepTraversal extracts "runner_type.instance_name" from a traversal
// of the form `step.<runner_type>.<instance_name>...`.
func parseStepTraversal(traversal hcl.Traversal) (string, bool) {
	if len(traversal) < 3 || traversal.RootName() != "step" {
		return "", false
	}
	runnerAttr, runnerOk := traversal[1].(hcl.TraverseAttr)
	nameAttr, nameOk := traversal[2].(hcl.TraverseAttr)
	if !runnerOk || !nameOk {
		return "", false
	}
	return runnerAttr.Name + "." + nameAttr.Name, true
}

// linkSteps resolves, for every step, the keys of the steps it depends on.
// Dependencies come from `depends_on` and from `step.*` traversals in
// argument expressions. The result lists dependencies in workflow order.
func linkSteps(ctx context.Context, wf *config.Workflow, r *registry.Registry) (map[string][]string, error) {
	logger := ctxlog.FromContext(ctx)

	steps := make(map[string]*config.Step, len(wf.Steps))
	position := make(map[string]int, len(wf.Steps))
	for i, s := range wf.Steps {
		steps[s.Key()] = s
		position[s.Key()] = i
	}

	deps := make(map[string][]string, len(wf.Steps))
	for _, s := range wf.Steps {
		key := s.Key()
		if _, ok := r.DefinitionRegistry[s.RunnerType]; !ok {
			return nil, fmt.Errorf("step '%s' uses unknown runner type '%s'", key, s.RunnerType)
		}

		set := make(map[string]struct{})
		add := func(dep string) {
			if _, exists := set[dep]; !exists {
				logger.Debug("Linking step dependency.", "from", key, "to", dep)
				set[dep] = struct{}{}
			}
		}

		for _, raw := range s.DependsOn {
			dep, err := parseDepAddress(raw)
			if err != nil {
				return nil, fmt.Errorf("step '%s': %w", key, err)
			}
			if _, ok := steps[dep]; !ok {
				return nil, fmt.Errorf("step '%s' depends on non-existent identifier '%s'", key, raw)
			}
			add(dep)
		}

		for _, it := range s.Iterables {
			for _, traversal := range it.Values.Variables() {
				if traversal.RootName() == "step" {
					return nil, fmt.Errorf("step '%s': iterable '%s' must not reference step outputs (%s)", key, it.Field, formatTraversal(traversal))
				}
			}
		}

		argNames := make([]string, 0, len(s.Arguments))
		for name := range s.Arguments {
			argNames = append(argNames, name)
		}
		sort.Strings(argNames)

		for _, name := range argNames {
			for _, traversal := range s.Arguments[name].Variables() {
				dep, ok := parseStepTraversal(traversal)
				if !ok {
					continue
				}
				depStep, found := steps[dep]
				if !found {
					return nil, fmt.Errorf("step '%s', argument '%s': reference to unknown step '%s'", key, name, dep)
				}
				if err := validateOutputReference(traversal, depStep, r); err != nil {
					return nil, fmt.Errorf("step '%s', argument '%s': %w", key, name, err)
				}
				add(dep)
			}
		}

		list := make([]string, 0, len(set))
		for dep := range set {
			list = append(list, dep)
		}
		sort.Slice(list, func(i, j int) bool { return position[list[i]] < position[list[j]] })
		deps[key] = list
	}
	return deps, nil
}

// validateOutputReference checks that a traversal addresses a declared
// output as `step.<runner>.<name>.output.<field>`.
func validateOutputReference(traversal hcl.Traversal, depStep *config.Step, r *registry.Registry) error {
	if len(traversal) < 5 {
		return fmt.Errorf("invalid reference %s: expected step.<runner>.<name>.output.<field>", formatTraversal(traversal))
	}
	outputAttr, isOutput := traversal[3].(hcl.TraverseAttr)
	nameAttr, isName := traversal[4].(hcl.TraverseAttr)
	if !isOutput || outputAttr.Name != "output" || !isName {
		return fmt.Errorf("invalid reference %s: expected step.<runner>.<name>.output.<field>", formatTraversal(traversal))
	}

	runnerDef, ok := r.DefinitionRegistry[depStep.RunnerType]
	if !ok {
		return fmt.Errorf("internal error: could not find definition for runner type %s", depStep.RunnerType)
	}
	if runnerDef.DynamicOutputs {
		return nil
	}
	if _, ok := runnerDef.Outputs[nameAttr.Name]; ok {
		return nil
	}
	return fmt.Errorf("reference to undeclared output %q on step %q", nameAttr.Name, depStep.Key())
}
