package dag

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/levelflow/internal/config"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
)

// expander replicates steps once per combination of their upstream
// iterable sources.
type expander struct {
	graph   *Graph
	steps   map[string]*config.Step
	deps    map[string][]string
	evalCtx *hcl.EvalContext

	// position is each step's index in the topological order.
	position map[string]int
	// own holds, per iterable step, the cartesian product of its values.
	own map[string][][]Binding
	// sources lists, per step, the iterable steps that reach it.
	sources map[string][]string
	// instances maps a step and a combination key to its node.
	instances map[string]map[string]*Node
}

// selection assigns a combination index to each iterable source.
type selection map[string]int

// key renders the selection restricted to sources.
func (sel selection) key(sources []string) string {
	parts := make([]string, len(sources))
	for i, src := range sources {
		parts[i] = src + "=" + strconv.Itoa(sel[src])
	}
	return strings.Join(parts, ";")
}

func (x *expander) expand(ctx context.Context, order []string) error {
	logger := ctxlog.FromContext(ctx)

	x.position = make(map[string]int, len(order))
	x.own = make(map[string][][]Binding)
	x.sources = make(map[string][]string, len(order))
	x.instances = make(map[string]map[string]*Node, len(order))
	for i, key := range order {
		x.position[key] = i
	}

	for _, key := range order {
		step := x.steps[key]

		if len(step.Iterables) > 0 {
			combos, err := x.iterableCombinations(step)
			if err != nil {
				return err
			}
			x.own[key] = combos
			logger.Debug("Expanded iterables.", "step", key, "combinations", len(combos))
		}

		sources := x.collectSources(key)
		x.sources[key] = sources
		x.instances[key] = make(map[string]*Node)

		for _, sel := range x.selections(sources) {
			node := x.newNode(step, sources, sel)
			if _, exists := x.graph.Nodes[node.ID]; exists {
				return fmt.Errorf("internal error: duplicate node id %q", node.ID)
			}
			x.graph.Nodes[node.ID] = node
			x.graph.order = append(x.graph.order, node.ID)
			x.instances[key][sel.key(sources)] = node

			for _, depKey := range x.deps[key] {
				depNode, ok := x.instances[depKey][sel.key(x.sources[depKey])]
				if !ok {
					return fmt.Errorf("internal error: no instance of '%s' for '%s'", depKey, node.ID)
				}
				node.Deps[depNode.ID] = depNode
				depNode.Dependents[node.ID] = node
			}
		}
	}
	return nil
}

// collectSources returns the iterable steps reaching key, ordered by their
// topological position.
func (x *expander) collectSources(key string) []string {
	set := make(map[string]struct{})
	if len(x.steps[key].Iterables) > 0 {
		set[key] = struct{}{}
	}
	for _, dep := range x.deps[key] {
		for _, src := range x.sources[dep] {
			set[src] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for src := range set {
		out = append(out, src)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && x.position[out[j]] < x.position[out[j-1]]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// selections enumerates every combination of the sources' own
// combinations; the first source varies slowest.
func (x *expander) selections(sources []string) []selection {
	result := []selection{{}}
	for _, src := range sources {
		n := len(x.own[src])
		next := make([]selection, 0, len(result)*n)
		for _, prefix := range result {
			for i := 0; i < n; i++ {
				sel := make(selection, len(prefix)+1)
				for k, v := range prefix {
					sel[k] = v
				}
				sel[src] = i
				next = append(next, sel)
			}
		}
		result = next
	}
	return result
}

func (x *expander) newNode(step *config.Step, sources []string, sel selection) *Node {
	node := &Node{
		Name:       step.Name,
		StepConfig: step,
		Output:     cty.NilVal,
		Deps:       make(map[string]*Node),
		Dependents: make(map[string]*Node),
	}
	for _, src := range sources {
		node.Params = append(node.Params, Parameterization{
			Source:   src,
			Bindings: x.own[src][sel[src]],
		})
	}
	node.ID = "step." + step.Key()
	if suffix := node.Suffix(); suffix != "" {
		node.ID += "[" + suffix + "]"
	}
	return node
}

// iterableCombinations evaluates a step's iterables and returns their
// cartesian product in declaration order.
func (x *expander) iterableCombinations(step *config.Step) ([][]Binding, error) {
	combos := [][]Binding{{}}
	for _, it := range step.Iterables {
		val, diags := it.Values.Value(x.evalCtx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("step '%s': failed to evaluate iterable '%s': %w", step.Key(), it.Field, diags)
		}
		if !val.IsWhollyKnown() || val.IsNull() || !val.CanIterateElements() || val.Type().IsMapType() || val.Type().IsObjectType() {
			return nil, fmt.Errorf("step '%s': iterable '%s' must be a known list of values", step.Key(), it.Field)
		}
		if val.LengthInt() == 0 {
			return nil, fmt.Errorf("step '%s': iterable '%s' has no values", step.Key(), it.Field)
		}

		var values []cty.Value
		for elems := val.ElementIterator(); elems.Next(); {
			_, v := elems.Element()
			values = append(values, v)
		}

		next := make([][]Binding, 0, len(combos)*len(values))
		for _, prefix := range combos {
			for _, v := range values {
				c := make([]Binding, len(prefix), len(prefix)+1)
				copy(c, prefix)
				next = append(next, append(c, Binding{Field: it.Field, Value: v}))
			}
		}
		combos = next
	}
	return combos, nil
}
