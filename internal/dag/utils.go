package dag

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// formatTraversal converts an hcl.Traversal to a human-readable string for logging.
func formatTraversal(t hcl.Traversal) string {
	var sb strings.Builder
	for i, part := range t {
		switch p := part.(type) {
		case hcl.TraverseRoot:
			sb.WriteString(p.Name)
		case hcl.TraverseAttr:
			sb.WriteRune('.')
			sb.WriteString(p.Name)
		case hcl.TraverseIndex:
			sb.WriteRune('[')
			if p.Key.Type() == cty.String {
				sb.WriteString(fmt.Sprintf("%q", p.Key.AsString()))
			} else if p.Key.Type() == cty.Number {
				bf := p.Key.AsBigFloat()
				sb.WriteString(bf.Text('f', -1))
			} else {
				sb.WriteString("...")
			}
			sb.WriteRune(']')
		default:
			if i > 0 {
				sb.WriteRune('.')
			}
			sb.WriteString("?")
		}
	}
	return sb.String()
}

// depAddrRegex is used to parse addresses like "runner_type.instance_name".
var depAddrRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+$`)

// parseDepAddress validates a raw `depends_on` entry.
func parseDepAddress(addr string) (string, error) {
	if !depAddrRegex.MatchString(addr) {
		return "", fmt.Errorf("invalid dependency address format: %q", addr)
	}
	return addr, nil
}

// valueLabel renders an iterable value as a path-safe label.
func valueLabel(v cty.Value) string {
	if v.IsNull() {
		return "None"
	}
	var s string
	switch {
	case v.Type() == cty.String:
		s = v.AsString()
	case v.Type() == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			i, _ := bf.Int64()
			s = fmt.Sprintf("%d", i)
		} else {
			s = bf.Text('g', -1)
		}
	case v.Type() == cty.Bool:
		s = fmt.Sprintf("%t", v.True())
	case v.CanIterateElements():
		parts := make([]string, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			parts = append(parts, valueLabel(elem))
		}
		s = strings.Join(parts, ".")
	default:
		s = v.GoString()
	}
	return strings.ReplaceAll(s, "/", "..")
}

// detectCycles checks for circular dependencies between steps using DFS.
// deps maps a step key to the keys of the steps it depends on.
func detectCycles(keys []string, deps map[string][]string) error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	var visit func(key string) error
	visit = func(key string) error {
		visiting[key] = true
		for _, dep := range deps[key] {
			if visiting[dep] {
				return fmt.Errorf("cycle detected involving '%s'", dep)
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		delete(visiting, key)
		visited[key] = true
		return nil
	}

	for _, key := range keys {
		if !visited[key] {
			if err := visit(key); err != nil {
				return err
			}
		}
	}
	return nil
}
