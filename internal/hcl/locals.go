package hcl

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/levelflow/internal/ctxlog"
	"github.com/vk/levelflow/internal/schema"
	"github.com/zclconf/go-cty/cty"
)

// evaluateLocals merges every `locals` block and evaluates the attributes
// in dependency order. An override replaces the named local without
// evaluating its expression; overrides for undeclared locals are errors.
func evaluateLocals(ctx context.Context, blocks []*schema.Locals, overrides map[string]cty.Value) (map[string]cty.Value, error) {
	logger := ctxlog.FromContext(ctx)

	exprs := make(map[string]hcl.Expression)
	for _, block := range blocks {
		attrs, err := bodyAttributes(block.Body)
		if err != nil {
			return nil, fmt.Errorf("invalid locals block: %w", err)
		}
		for name, expr := range attrs {
			if _, exists := exprs[name]; exists {
				return nil, fmt.Errorf("local %q is defined more than once", name)
			}
			exprs[name] = expr
		}
	}

	for name := range overrides {
		if _, exists := exprs[name]; !exists {
			return nil, fmt.Errorf("override for unknown local %q", name)
		}
	}

	order, err := localsOrder(exprs)
	if err != nil {
		return nil, err
	}

	values := make(map[string]cty.Value, len(exprs))
	for _, name := range order {
		if v, ok := overrides[name]; ok {
			logger.Debug("Local overridden.", "name", name)
			values[name] = v
			continue
		}
		val, diags := exprs[name].Value(NewEvalContext(values))
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to evaluate local %q: %w", name, diags)
		}
		values[name] = val
	}
	return values, nil
}

// localsOrder sorts locals so that every local comes after the locals it
// references. Ties are broken by name for stable diagnostics.
func localsOrder(exprs map[string]hcl.Expression) ([]string, error) {
	deps := make(map[string][]string, len(exprs))
	names := make([]string, 0, len(exprs))
	for name, expr := range exprs {
		names = append(names, name)
		for _, traversal := range expr.Variables() {
			if traversal.RootName() != "local" || len(traversal) < 2 {
				continue
			}
			attr, ok := traversal[1].(hcl.TraverseAttr)
			if !ok {
				continue
			}
			if _, known := exprs[attr.Name]; !known {
				return nil, fmt.Errorf("local %q references undeclared local %q", name, attr.Name)
			}
			deps[name] = append(deps[name], attr.Name)
		}
	}
	sort.Strings(names)

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(names))
	order := make([]string, 0, len(names))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("cycle between locals: %s", strings.Join(append(path, name), " -> "))
		}
		state[name] = visiting
		next := append(path[:len(path):len(path)], name)
		for _, dep := range deps[name] {
			if err := visit(dep, next); err != nil {
				return err
			}
		}
		state[name] = visited
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}
